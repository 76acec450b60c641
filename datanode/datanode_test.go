package datanode

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/transport"
)

// fakeNameNode answers registrations with the given replies, then ACK
type fakeNameNode struct {
	mu         sync.Mutex
	replies    []protocol.StatusCode
	registered []common.NodeAddress
}

func (f *fakeNameNode) handle(conn net.Conn) {
	request, err := protocol.ReadMessage(conn, common.MAX_FRAME_SIZE)
	if err != nil {
		return
	}
	reg, ok := request.(protocol.Register)
	if !ok {
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}
	f.mu.Lock()
	f.registered = append(f.registered, reg.Node)
	code := protocol.StatusACK
	if len(f.replies) > 0 {
		code, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()
	protocol.WriteMessage(conn, protocol.Status{Code: code})
}

func startFakeNameNode(t *testing.T, replies ...protocol.StatusCode) (*fakeNameNode, string) {
	fake := &fakeNameNode{replies: replies}
	server, err := transport.Listen("fake-namenode", "127.0.0.1:0", fake.handle)
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve()
	t.Cleanup(func() { server.Close() })
	return fake, server.Addr().String()
}

func testConfig(t *testing.T, nameNodeEndpoint string) common.DataNodeConfig {
	config := common.DefaultDataNodeConfig()
	config.NameNodeEndpoint = nameNodeEndpoint
	config.ListenEndpoint = "127.0.0.1:0"
	config.DataDir = t.TempDir()
	config.BlockSize = 1 * datasize.KB
	config.RegisterBackoff = common.Duration{Duration: 10 * time.Millisecond}
	return config
}

func startDataNode(t *testing.T, config common.DataNodeConfig) *DataNode {
	datanode, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := datanode.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { datanode.Close() })
	return datanode
}

func TestRegisterRetriesUntilAccepted(t *testing.T) {
	fake, endpoint := startFakeNameNode(t, protocol.StatusNAK, protocol.StatusNAK, protocol.StatusDUP)
	datanode := startDataNode(t, testConfig(t, endpoint))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.registered) != 3 {
		t.Fatalf("%d registration attempts, want 3", len(fake.registered))
	}
	for _, node := range fake.registered {
		if node != datanode.Address() {
			t.Fatalf("registered %v, datanode serves at %v", node, datanode.Address())
		}
	}
	if datanode.Address().Address != "127.0.0.1" || datanode.Address().Port == 0 {
		t.Fatalf("unexpected advertised address %v", datanode.Address())
	}
}

func TestRegisterGivesUp(t *testing.T) {
	_, endpoint := startFakeNameNode(t, protocol.StatusNAK, protocol.StatusNAK, protocol.StatusNAK)
	config := testConfig(t, endpoint)
	config.RegisterAttempts = 2

	datanode, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := datanode.Start(context.Background()); err == nil {
		datanode.Close()
		t.Fatal("expected registration to fail")
	}
}

func TestRegisterWithoutNameNode(t *testing.T) {
	// grab a free port and release it so nothing listens there
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	endpoint := listener.Addr().String()
	listener.Close()

	config := testConfig(t, endpoint)
	config.RegisterAttempts = 3
	datanode, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	if err := datanode.Start(context.Background()); err == nil {
		datanode.Close()
		t.Fatal("expected registration to fail")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	config := testConfig(t, "127.0.0.1:8000")
	config.BlockSize = 0
	if _, err := New(config); err == nil {
		t.Fatal("expected zero block size to be rejected")
	}
}

func putBlock(t *testing.T, endpoint string, data []byte) protocol.Message {
	t.Helper()
	conn, err := transport.Dial(context.Background(), endpoint, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	reply, err := conn.Call(protocol.PutBlock{SizeHint: uint64(len(data))})
	if err != nil {
		t.Fatal(err)
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusOK {
		return reply
	}
	reply, err = conn.Call(protocol.BlockData{Data: data})
	if err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestPutAndGetBlock(t *testing.T) {
	_, nameNode := startFakeNameNode(t)
	datanode := startDataNode(t, testConfig(t, nameNode))
	endpoint := datanode.Address().String()

	data := bytes.Repeat([]byte{0xab}, 1024)
	id, ok := putBlock(t, endpoint, data).(protocol.BlockID)
	if !ok {
		t.Fatal("expected a block id")
	}

	reply, err := transport.Call(context.Background(), endpoint, time.Second, protocol.GetBlock{BlockID: id.ID})
	if err != nil {
		t.Fatal(err)
	}
	block, ok := reply.(protocol.BlockData)
	if !ok || !bytes.Equal(block.Data, data) {
		t.Fatalf("unexpected reply %T", reply)
	}

	if blocks, _ := datanode.Store().Stats(); blocks != 1 {
		t.Fatalf("%d blocks stored, want 1", blocks)
	}
}

func TestPutBlockTooLarge(t *testing.T) {
	_, nameNode := startFakeNameNode(t)
	datanode := startDataNode(t, testConfig(t, nameNode))
	endpoint := datanode.Address().String()

	reply := putBlock(t, endpoint, make([]byte, 1025))
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusNAK {
		t.Fatalf("got %#v, want NAK", reply)
	}

	if blocks, _ := datanode.Store().Stats(); blocks != 0 {
		t.Fatalf("%d blocks stored, want 0", blocks)
	}
}

func TestPutBlockRejectsOversizedFrame(t *testing.T) {
	_, nameNode := startFakeNameNode(t)
	datanode := startDataNode(t, testConfig(t, nameNode))

	conn, err := transport.Dial(context.Background(), datanode.Address().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	reply, err := conn.Call(protocol.PutBlock{SizeHint: 1})
	if err != nil {
		t.Fatal(err)
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusOK {
		t.Fatalf("got %#v, want OK", reply)
	}

	// Announce a 32 MiB block frame but send only its header: the node must
	// refuse it from the length alone, without waiting for the body
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 32<<20)
	if _, err := conn.Write(header[:]); err != nil {
		t.Fatal(err)
	}
	reply, err = conn.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusNAK {
		t.Fatalf("got %#v, want NAK", reply)
	}
	if blocks, _ := datanode.Store().Stats(); blocks != 0 {
		t.Fatalf("%d blocks stored, want 0", blocks)
	}
}

func TestGetUnknownBlock(t *testing.T) {
	_, nameNode := startFakeNameNode(t)
	datanode := startDataNode(t, testConfig(t, nameNode))

	reply, err := transport.Call(context.Background(), datanode.Address().String(), time.Second,
		protocol.GetBlock{BlockID: "4f0c2a4e-5b9e-11ef-8000-000000000000"})
	if err != nil {
		t.Fatal(err)
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusNFOUND {
		t.Fatalf("got %#v, want NFOUND", reply)
	}
}

func TestDataNodeRejectsNameNodeRequests(t *testing.T) {
	_, nameNode := startFakeNameNode(t)
	datanode := startDataNode(t, testConfig(t, nameNode))

	reply, err := transport.Call(context.Background(), datanode.Address().String(), time.Second, protocol.List{})
	if err != nil {
		t.Fatal(err)
	}
	if status, ok := reply.(protocol.Status); !ok || status.Code != protocol.StatusNAK {
		t.Fatalf("got %#v, want NAK", reply)
	}
}

func TestAdvertisedAddress(t *testing.T) {
	hostname, err := os.Hostname()
	if err != nil {
		t.Skip("no hostname:", err)
	}
	bound := &net.TCPAddr{IP: net.IPv4zero, Port: 4242}
	tests := []struct {
		listen    string
		advertise string
		want      string
	}{
		{"127.0.0.1:0", "", "127.0.0.1"},
		{"datanode-1:9000", "", "datanode-1"},
		{"0.0.0.0:0", "", hostname},
		{"[::]:0", "", hostname},
		{":0", "", hostname},
		{"0.0.0.0:0", "10.1.2.3", "10.1.2.3"},
	}
	for _, tt := range tests {
		config := common.DefaultDataNodeConfig()
		config.ListenEndpoint = tt.listen
		config.AdvertiseHost = tt.advertise
		got, err := advertisedAddress(config, bound)
		if err != nil {
			t.Fatalf("%s: %v", tt.listen, err)
		}
		if got.Address != tt.want || got.Port != 4242 {
			t.Errorf("listen %q advertise %q: got %v, want %s:4242", tt.listen, tt.advertise, got, tt.want)
		}
	}
}
