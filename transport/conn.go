package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ZhenbangYou/TinyDFS/block-dfs/common"
	"github.com/ZhenbangYou/TinyDFS/block-dfs/protocol"
)

// Conn is one request/response exchange with a namenode or a datanode
type Conn struct {
	net.Conn
	endpoint string
}

// Dial connects to endpoint. The whole exchange on the returned Conn must finish within timeout.
// Failures to connect wrap common.ErrConnectionFailure.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	c, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrConnectionFailure, endpoint, err)
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if !deadline.IsZero() {
		c.SetDeadline(deadline)
	}
	return &Conn{Conn: c, endpoint: endpoint}, nil
}

func (c *Conn) Endpoint() string {
	return c.endpoint
}

func (c *Conn) Send(m protocol.Message) error {
	if err := protocol.WriteMessage(c, m); err != nil {
		return fmt.Errorf("sending %s to %s: %w", m.Kind(), c.endpoint, err)
	}
	return nil
}

func (c *Conn) Receive() (protocol.Message, error) {
	m, err := protocol.ReadMessage(c, common.MAX_FRAME_SIZE)
	if err != nil {
		return nil, fmt.Errorf("reading reply from %s: %w", c.endpoint, err)
	}
	return m, nil
}

// Call sends req and waits for the single reply
func (c *Conn) Call(req protocol.Message) (protocol.Message, error) {
	if err := c.Send(req); err != nil {
		return nil, err
	}
	return c.Receive()
}

// Call dials endpoint, performs one exchange and closes the connection
func Call(ctx context.Context, endpoint string, timeout time.Duration, req protocol.Message) (protocol.Message, error) {
	conn, err := Dial(ctx, endpoint, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.Call(req)
}
