package namenode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/transport"
)

func startServer(t *testing.T) string {
	nn := NewNameNode(NewMemoryRegistry(), time.Minute)
	server, err := NewServer(nn, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve()
	t.Cleanup(func() {
		server.Close()
		nn.Close()
	})
	return server.Addr().String()
}

func call(t *testing.T, endpoint string, req protocol.Message) protocol.Message {
	t.Helper()
	reply, err := transport.Call(context.Background(), endpoint, time.Second, req)
	if err != nil {
		t.Fatalf("%s: %v", req.Kind(), err)
	}
	return reply
}

func expectStatus(t *testing.T, reply protocol.Message, code protocol.StatusCode) {
	t.Helper()
	status, ok := reply.(protocol.Status)
	if !ok || status.Code != code {
		t.Fatalf("got %#v, want status %s", reply, code)
	}
}

func TestServerExchanges(t *testing.T) {
	endpoint := startServer(t)
	a := node(9001)
	b := node(9002)

	if files, ok := call(t, endpoint, protocol.List{}).(protocol.FileList); !ok || len(files.Files) != 0 {
		t.Fatalf("empty namenode listed %#v", files)
	}
	expectStatus(t, call(t, endpoint, protocol.PutFile{Path: "/f", Size: 20000}), protocol.StatusNONODES)

	expectStatus(t, call(t, endpoint, protocol.Register{Node: a}), protocol.StatusACK)
	expectStatus(t, call(t, endpoint, protocol.Register{Node: b}), protocol.StatusACK)
	expectStatus(t, call(t, endpoint, protocol.Register{Node: a}), protocol.StatusDUP)

	nodes, ok := call(t, endpoint, protocol.PutFile{Path: "/f", Size: 20000}).(protocol.NodeList)
	if !ok || len(nodes.Nodes) != 2 {
		t.Fatalf("unexpected node list %#v", nodes)
	}
	expectStatus(t, call(t, endpoint, protocol.PutFile{Path: "/f", Size: 1}), protocol.StatusDUP)

	placements := []common.Placement{
		{Node: a, BlockID: "a0", Chunk: 0},
		{Node: b, BlockID: "b0", Chunk: 0},
		{Node: a, BlockID: "a1", Chunk: 1},
		{Node: b, BlockID: "b1", Chunk: 1},
	}
	expectStatus(t, call(t, endpoint, protocol.DataBlocks{Path: "/missing", Placements: placements}), protocol.StatusNFOUND)
	expectStatus(t, call(t, endpoint, protocol.DataBlocks{Path: "/f", Placements: placements}), protocol.StatusACK)
	expectStatus(t, call(t, endpoint, protocol.DataBlocks{Path: "/f", Placements: placements}), protocol.StatusDUP)

	inode, ok := call(t, endpoint, protocol.GetFile{Path: "/f"}).(protocol.FileInode)
	if !ok || inode.Size != 20000 || len(inode.Placements) != 2 {
		t.Fatalf("unexpected inode %#v", inode)
	}
	expectStatus(t, call(t, endpoint, protocol.GetFile{Path: "/missing"}), protocol.StatusNFOUND)

	files, ok := call(t, endpoint, protocol.List{}).(protocol.FileList)
	if !ok || len(files.Files) != 1 || files.Files[0] != (common.FileInfo{Name: "/f", Size: 20000}) {
		t.Fatalf("unexpected listing %#v", files)
	}
}

func TestServerRejectsUnexpectedKind(t *testing.T) {
	endpoint := startServer(t)
	expectStatus(t, call(t, endpoint, protocol.GetBlock{BlockID: "x"}), protocol.StatusNAK)
}

func TestServerSurvivesMalformedFrame(t *testing.T) {
	endpoint := startServer(t)

	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(time.Second))
	// length 2, unknown kind 0xee
	conn.Write([]byte{0, 0, 0, 2, 0xee, 0x00})
	reply, err := protocol.ReadMessage(conn, common.MAX_FRAME_SIZE)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, reply, protocol.StatusNAK)

	// a peer hanging up mid-frame gets nothing but must not take the server down
	conn, err = net.Dial("tcp", endpoint)
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte{0, 0, 0, 10, byte(protocol.KindList)})
	conn.Close()

	expectStatus(t, call(t, endpoint, protocol.Register{Node: node(9001)}), protocol.StatusACK)
}
