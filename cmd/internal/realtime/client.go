package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Conn is the registry's record of one live connection.
//
// The send queue is bounded and never closed; producers drop when it is full.
// Close is idempotent and stops the writer goroutine.
type Conn struct {
	SubjectID string
	Role      string

	transport Transport
	send      chan []byte
	alive     atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	closeCode websocket.StatusCode
}

func newConn(subjectID, role string, t Transport, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	c := &Conn{
		SubjectID: subjectID,
		Role:      role,
		transport: t,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Done is closed once the connection has been closed by the server.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the connection answered since the last sweep.
func (c *Conn) Alive() bool {
	return c.alive.Load()
}

// CloseCode is the status the server closed with, or -1 while open.
func (c *Conn) CloseCode() websocket.StatusCode {
	select {
	case <-c.done:
		return c.closeCode
	default:
		return -1
	}
}

func (c *Conn) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// markClosed stops producers and the writer. It reports whether this call did it;
// only that caller goes on to close the transport.
func (c *Conn) markClosed(code websocket.StatusCode) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
		closed = true
	})
	return closed
}

// writeLoop drains the send queue until the connection is closed.
// A failed write is reported through onFail and ends the loop.
func (c *Conn) writeLoop(timeout time.Duration, onFail func(*Conn, error)) {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := c.transport.Send(ctx, b)
			cancel()
			if err != nil {
				onFail(c, err)
				return
			}
		}
	}
}
