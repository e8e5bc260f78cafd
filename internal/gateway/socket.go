package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// MaxMessageBytes bounds one inbound consumer frame; the coder/websocket
// read limit enforces this at the transport level and closes with
// websocket.StatusMessageTooBig (1009) on violation (spec §4.4).
const MaxMessageBytes = 256 * 1024

// writeTimeout bounds a single outbound frame write so one slow
// consumer can't stall the gateway's write loop indefinitely.
const writeTimeout = 10 * time.Second

var errSocketClosed = errors.New("gateway: socket closed")

// Socket adapts a coder/websocket connection to session.ConsumerSocket.
// Writes are queued onto a channel drained by a single writer goroutine
// so concurrent Send calls from the broadcaster never interleave
// frames on the wire; BufferedAmount reports the queue's outstanding
// byte total for the broadcaster's backpressure check (spec §4.4).
type Socket struct {
	conn   *websocket.Conn
	connID string

	outbound chan []byte
	buffered int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSocket wraps conn, applying MaxMessageBytes as its read limit, and
// starts the background write loop.
func NewSocket(conn *websocket.Conn, connID string) *Socket {
	conn.SetReadLimit(MaxMessageBytes)
	s := &Socket{
		conn:     conn,
		connID:   connID,
		outbound: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *Socket) writeLoop() {
	for data := range s.outbound {
		atomic.AddInt64(&s.buffered, -int64(len(data)))

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}
	}
}

// Send JSON-encodes frame and queues it for delivery. Passing an
// already-marshaled json.RawMessage (as the broadcaster does for fan-out)
// avoids re-encoding per socket.
func (s *Socket) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}

	atomic.AddInt64(&s.buffered, int64(len(data)))
	select {
	case s.outbound <- data:
		return nil
	case <-s.closed:
		atomic.AddInt64(&s.buffered, -int64(len(data)))
		return errSocketClosed
	}
}

// BufferedAmount reports bytes queued but not yet flushed to the wire.
func (s *Socket) BufferedAmount() int {
	return int(atomic.LoadInt64(&s.buffered))
}

// Close closes the underlying connection with code and reason. Safe to
// call more than once.
func (s *Socket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.outbound)
		err = s.conn.Close(websocket.StatusCode(code), reason)
	})
	return err
}

// Read blocks for the next inbound frame, returning its raw bytes.
func (s *Socket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

// CloseStatus reports the websocket close code carried by err, or -1 if
// err is not a close error (coder/websocket.CloseStatus semantics).
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}
