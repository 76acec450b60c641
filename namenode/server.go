package namenode

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/transport"
)

// Server answers one request per connection on behalf of a NameNode
type Server struct {
	nameNode *NameNode
	server   *transport.Server
}

func NewServer(nameNode *NameNode, endpoint string) (*Server, error) {
	s := &Server{nameNode: nameNode}
	server, err := transport.Listen("namenode", endpoint, s.handleConn)
	if err != nil {
		return nil, err
	}
	s.server = server
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.server.Addr()
}

func (s *Server) Serve() error {
	return s.server.Serve()
}

func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(common.CONN_IDLE_TIMEOUT))
	remote := conn.RemoteAddr().String()

	request, err := protocol.ReadMessage(conn, common.MAX_FRAME_SIZE)
	if err != nil {
		slog.Warn("Bad request", "remote", remote, "error", err)
		if errors.Is(err, common.ErrMalformedMessage) {
			protocol.WriteMessage(conn, protocol.Status{Code: protocol.StatusNAK})
		}
		return
	}

	reply := s.dispatch(request)
	if err := protocol.WriteMessage(conn, reply); err != nil {
		slog.Warn("Failed to send reply", "remote", remote, "request", request.Kind().String(), "error", err)
	}
}

func (s *Server) dispatch(request protocol.Message) protocol.Message {
	switch req := request.(type) {
	case protocol.Register:
		if err := s.nameNode.RegisterNode(req.Node); err != nil {
			return statusOf(err)
		}
		return protocol.Status{Code: protocol.StatusACK}

	case protocol.PutFile:
		nodes, err := s.nameNode.BeginStore(req.Path, req.Size)
		if err != nil {
			return statusOf(err)
		}
		return protocol.NodeList{Nodes: nodes}

	case protocol.DataBlocks:
		if err := s.nameNode.CompleteStore(req.Path, req.Placements); err != nil {
			return statusOf(err)
		}
		return protocol.Status{Code: protocol.StatusACK}

	case protocol.GetFile:
		size, placements, err := s.nameNode.Lookup(req.Path)
		if err != nil {
			return statusOf(err)
		}
		return protocol.FileInode{Size: size, Placements: placements}

	case protocol.List:
		files, err := s.nameNode.ListFiles()
		if err != nil {
			return statusOf(err)
		}
		return protocol.FileList{Files: files}

	default:
		slog.Warn("Unexpected request", "kind", request.Kind().String())
		return protocol.Status{Code: protocol.StatusNAK}
	}
}

func statusOf(err error) protocol.Status {
	switch {
	case errors.Is(err, common.ErrDuplicateFile), errors.Is(err, common.ErrDuplicateNode),
		errors.Is(err, common.ErrAlreadyCompleted):
		return protocol.Status{Code: protocol.StatusDUP}
	case errors.Is(err, common.ErrNotFound):
		return protocol.Status{Code: protocol.StatusNFOUND}
	case errors.Is(err, common.ErrNoAvailableNodes):
		return protocol.Status{Code: protocol.StatusNONODES}
	default:
		return protocol.Status{Code: protocol.StatusNAK}
	}
}
