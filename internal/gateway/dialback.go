package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/coder/websocket"
)

// dialbackSocket adapts a coder/websocket connection to the
// claude.DuplexSocket shape (Read/Write/Close) without this package
// importing the claude adapter — the two interfaces unify structurally.
// It starts buffering inbound frames the instant the CLI dials back, so
// none are lost while the transport hub is still resolving which
// adapter to hand the socket to (spec §4.10 step 2: "Buffer any
// messages arriving on the socket").
type dialbackSocket struct {
	conn *websocket.Conn

	msgs  chan []byte
	errCh chan error

	pumpOnce sync.Once
}

func newDialbackSocket(conn *websocket.Conn) *dialbackSocket {
	d := &dialbackSocket{
		conn:  conn,
		msgs:  make(chan []byte, 64),
		errCh: make(chan error, 1),
	}
	d.startPump()
	return d
}

func (d *dialbackSocket) startPump() {
	d.pumpOnce.Do(func() {
		go func() {
			for {
				_, data, err := d.conn.Read(context.Background())
				if err != nil {
					d.errCh <- err
					close(d.msgs)
					return
				}
				d.msgs <- data
			}
		}()
	})
}

// Read drains the next buffered frame, blocking until one arrives, ctx
// is cancelled, or the underlying connection closes.
func (d *dialbackSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-d.msgs:
		if !ok {
			select {
			case err := <-d.errCh:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *dialbackSocket) Write(ctx context.Context, data []byte) error {
	return d.conn.Write(ctx, websocket.MessageText, data)
}

func (d *dialbackSocket) Close() error {
	return d.conn.Close(websocket.StatusNormalClosure, "")
}
