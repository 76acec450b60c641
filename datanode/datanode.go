// Package datanode stores the blocks of files and serves them back by id.
package datanode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/transport"
)

type DataNode struct {
	config common.DataNodeConfig
	store  *BlockStore
	server *transport.Server
	// address registered with the namenode, known once the listener is bound
	advertised common.NodeAddress
}

func New(config common.DataNodeConfig) (*DataNode, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	store, err := NewBlockStore(config.DataDir, config.CacheTTL.Duration)
	if err != nil {
		return nil, err
	}
	return &DataNode{config: config, store: store}, nil
}

// Start binds the listener, registers with the namenode and serves blocks in the background.
// The node serves nothing if registration fails.
func (datanode *DataNode) Start(ctx context.Context) error {
	server, err := transport.Listen("datanode", datanode.config.ListenEndpoint, datanode.handleConn)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", datanode.config.ListenEndpoint, err)
	}
	advertised, err := advertisedAddress(datanode.config, server.Addr())
	if err != nil {
		server.Close()
		return err
	}
	datanode.server = server
	datanode.advertised = advertised

	if err := datanode.registerWithNameNode(ctx); err != nil {
		server.Close()
		return err
	}

	go func() {
		if err := server.Serve(); err != nil {
			slog.Error("Datanode stopped serving", "error", err)
		}
	}()
	return nil
}

// Address is the address registered with the namenode
func (datanode *DataNode) Address() common.NodeAddress {
	return datanode.advertised
}

func (datanode *DataNode) Store() *BlockStore {
	return datanode.store
}

func (datanode *DataNode) Close() error {
	if datanode.server == nil {
		return nil
	}
	return datanode.server.Close()
}

func advertisedAddress(config common.DataNodeConfig, bound net.Addr) (common.NodeAddress, error) {
	host, _, err := net.SplitHostPort(config.ListenEndpoint)
	if err != nil {
		return common.NodeAddress{}, err
	}
	if config.AdvertiseHost != "" {
		host = config.AdvertiseHost
	} else if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		// Listening on every interface, register the name other hosts know this machine by
		host, err = os.Hostname()
		if err != nil {
			return common.NodeAddress{}, fmt.Errorf("listening on %s without an advertise host: %w",
				config.ListenEndpoint, err)
		}
	}
	_, portStr, err := net.SplitHostPort(bound.String())
	if err != nil {
		return common.NodeAddress{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return common.NodeAddress{}, err
	}
	return common.NodeAddress{Address: host, Port: uint16(port)}, nil
}

// Register with the namenode, retrying with exponential backoff on NAK or
// connection failure. ACK and DUP both mean the namenode knows this node.
func (datanode *DataNode) registerWithNameNode(ctx context.Context) error {
	attempts := datanode.config.RegisterAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := datanode.config.RegisterBackoff.Duration

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		slog.Info("Registering with namenode",
			"nameNodeEndpoint", datanode.config.NameNodeEndpoint,
			"dataNodeEndpoint", datanode.advertised.String(),
			"attempt", attempt)

		reply, err := transport.Call(ctx, datanode.config.NameNodeEndpoint, common.RPC_TIMEOUT,
			protocol.Register{Node: datanode.advertised})
		if err == nil {
			status, ok := reply.(protocol.Status)
			switch {
			case ok && (status.Code == protocol.StatusACK || status.Code == protocol.StatusDUP):
				slog.Info("Registered with namenode", "reply", status.Code.String())
				return nil
			case ok && status.Code == protocol.StatusNAK:
				err = errors.New("registration rejected by namenode")
			default:
				err = fmt.Errorf("%w: %s to reg", common.ErrUnexpectedReply, reply.Kind())
			}
		}
		lastErr = err
		slog.Error("error registering with namenode", "error", err, "attempt", attempt)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, common.REGISTER_MAX_BACKOFF)
	}
	return fmt.Errorf("registration failed after %d attempts: %w", attempts, lastErr)
}

func (datanode *DataNode) handleConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(common.CONN_IDLE_TIMEOUT))
	remote := conn.RemoteAddr().String()

	request, err := protocol.ReadMessage(conn, requestFrameLimit)
	if err != nil {
		slog.Warn("Bad request", "remote", remote, "error", err)
		if errors.Is(err, common.ErrMalformedMessage) {
			protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		}
		return
	}

	switch req := request.(type) {
	case protocol.PutBlock:
		datanode.putBlock(conn, req)
	case protocol.GetBlock:
		datanode.getBlock(conn, req)
	default:
		slog.Warn("Unexpected request", "remote", remote, "kind", request.Kind().String())
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
	}
}

// Requests carry at most a block id
const requestFrameLimit = 4096

func (datanode *DataNode) blockSize() uint64 {
	return datanode.config.BlockSize.Bytes()
}

// A block data frame is the kind byte followed by at most one block
func (datanode *DataNode) blockFrameLimit() uint32 {
	return uint32(datanode.blockSize()) + 1
}

func (datanode *DataNode) putBlock(conn net.Conn, req protocol.PutBlock) {
	slog.Info("PutBlock request", "sizeHint", req.SizeHint)

	if req.SizeHint > datanode.blockSize() {
		slog.Warn("PutBlock rejected, block too large", "sizeHint", req.SizeHint, "blockSize", datanode.blockSize())
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}
	if err := protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusOK}); err != nil {
		slog.Warn("error accepting block", "error", err)
		return
	}

	message, err := protocol.ReadMessage(conn, datanode.blockFrameLimit())
	if err != nil {
		slog.Warn("error receiving block data", "error", err)
		if errors.Is(err, common.ErrMalformedMessage) {
			protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		}
		return
	}
	block, ok := message.(protocol.BlockData)
	if !ok {
		slog.Warn("expected block data", "kind", message.Kind().String())
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}
	if uint64(len(block.Data)) > datanode.blockSize() {
		slog.Warn("PutBlock rejected, block too large", "size", len(block.Data), "blockSize", datanode.blockSize())
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}

	id, err := datanode.store.Put(block.Data)
	if err != nil {
		slog.Error("error storing block", "error", err)
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}
	slog.Debug("PutBlock succeeded", "blockID", id, "bytes", len(block.Data))
	protocol.WriteMessage(conn, protocol.BlockID{ID: id})
}

func (datanode *DataNode) getBlock(conn net.Conn, req protocol.GetBlock) {
	slog.Info("GetBlock request", "blockID", req.BlockID)

	data, err := datanode.store.Get(req.BlockID)
	if errors.Is(err, common.ErrBlockNotFound) {
		slog.Warn("GetBlock for unknown block", "blockID", req.BlockID)
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNFOUND})
		return
	} else if err != nil {
		slog.Error("error reading block", "blockID", req.BlockID, "error", err)
		protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		return
	}
	if err := protocol.WriteMessage(conn, protocol.BlockData{Data: data}); err != nil {
		slog.Warn("error sending block", "blockID", req.BlockID, "error", err)
		return
	}
	slog.Debug("GetBlock succeeded", "blockID", req.BlockID, "bytes", len(data))
}
