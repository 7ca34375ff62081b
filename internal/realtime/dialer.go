package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

// Conn is a single open stream connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WebSocketDialer dials the backend notification stream, passing the
// token as a query credential.
type WebSocketDialer struct {
	URL string
}

// Dial opens a WebSocket to d.URL with ?token= appended.
func (d WebSocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s://%s%s: %w", u.Scheme, u.Host, u.Path, err)
	}

	conn.SetReadLimit(maxReadBytes)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

// closeCode classifies a read error. Errors without a close frame count
// as an abnormal closure.
func closeCode(err error) websocket.StatusCode {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.StatusAbnormalClosure
}
