package realtime

import (
	"context"

	"github.com/coder/websocket"
)

// Transport is the server side of one live connection.
//
// Ping blocks until the peer acknowledges or ctx ends. Close must be safe to call
// concurrently with Send and Ping, and more than once.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// wsTransport adapts a websocket connection. Pongs are only observed while a reader is
// active on conn, so the gateway keeps its read loop running for the life of the connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
