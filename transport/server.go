// Package transport runs the accept loops of the namenode and the datanodes and
// opens the client side of their one-exchange-per-connection protocol.
package transport

import (
	"errors"
	"log/slog"
	"net"
	"sync"
)

// Server wraps a listener and a per-connection handler.
// Each accepted connection is served on its own goroutine and closed when the handler returns.
type Server struct {
	name     string
	listener net.Listener
	handle   func(net.Conn)

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds endpoint ("host:port", port 0 picks a free one). Nothing is accepted until Serve.
func Listen(name string, endpoint string, handle func(net.Conn)) (*Server, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	slog.Info("listening", "server", name, "address", listener.Addr().String())
	return &Server{
		name:     name,
		listener: listener,
		handle:   handle,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until Close is called, then returns nil
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			slog.Error("accept error, stopping server", "server", s.name, "error", err)
			return err
		}

		s.mu.Lock()
		if s.closed { // double check after locking
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		if x := recover(); x != nil {
			slog.Error("panic while serving connection", "server", s.name,
				"remote", conn.RemoteAddr().String(), "panic", x)
		}
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.handle(conn)
}

// Close stops accepting, closes live connections and waits for their handlers to return
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("server closed", "server", s.name)
	return err
}
