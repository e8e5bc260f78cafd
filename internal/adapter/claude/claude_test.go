package claude

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// fakeSocket is a loopback DuplexSocket: Write appends to outbound,
// and queued lines are handed out by Read in order.
type fakeSocket struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
	readCh   chan []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{readCh: make(chan []byte, 16)}
}

func (f *fakeSocket) push(line []byte) { f.readCh <- line }

func (f *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case line, ok := <-f.readCh:
		if !ok {
			return nil, context.Canceled
		}
		return line, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSocket) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.outbound = append(f.outbound, cp)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func (f *fakeSocket) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.outbound))
	copy(out, f.outbound)
	return out
}

func TestConnectBlocksUntilDeliverSocket(t *testing.T) {
	a := New(launcher.New(), Config{Command: []string{"sh", "-c", "sleep 5"}})
	a.dialTimeout = 2 * time.Second

	resultCh := make(chan session.BackendSession, 1)
	errCh := make(chan error, 1)
	go func() {
		bs, err := a.Connect(context.Background(), "sess-1", session.ConnectOptions{})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- bs
	}()

	time.Sleep(50 * time.Millisecond)
	sock := newFakeSocket()
	ok := a.DeliverSocket("sess-1", sock)
	require.True(t, ok)

	select {
	case bs := <-resultCh:
		assert.Equal(t, "sess-1", bs.SessionID())
	case err := <-errCh:
		t.Fatalf("Connect failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Connect to resolve")
	}
}

func TestConnectTimesOutWithoutDeliverSocket(t *testing.T) {
	a := New(launcher.New(), Config{Command: []string{"sh", "-c", "sleep 5"}})
	a.dialTimeout = 50 * time.Millisecond

	_, err := a.Connect(context.Background(), "sess-2", session.ConnectOptions{})
	assert.ErrorIs(t, err, session.ErrConnectTimeout)

	assert.False(t, a.DeliverSocket("sess-2", newFakeSocket()))
}

func TestDeliverSocketRejectsWrongType(t *testing.T) {
	a := New(launcher.New(), Config{})
	a.mu.Lock()
	a.pending["sess-3"] = make(chan DuplexSocket, 1)
	a.mu.Unlock()

	assert.False(t, a.DeliverSocket("sess-3", "not a socket"))
}

func TestBackendSessionTranslatesWireTraffic(t *testing.T) {
	sock := newFakeSocket()
	bs := newBackendSession("sess-4", sock)

	init := map[string]any{
		"type": "system", "subtype": "init",
		"session_id": "backend-xyz", "cwd": "/tmp", "model": "claude-opus",
	}
	line, _ := json.Marshal(init)
	sock.push(line)

	select {
	case msg := <-bs.Messages():
		require.NotNil(t, msg)
		assert.Equal(t, types.TypeSessionInit, msg.Type)
		assert.Equal(t, "backend-xyz", msg.MetaString("backend_session_id"))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for translated message")
	}

	err := bs.Send(&types.UnifiedMessage{
		Type:    types.TypeUserMessage,
		Content: []types.UnifiedContent{types.ContentText{Text: "hello"}},
	})
	require.NoError(t, err)

	writes := sock.writes()
	require.Len(t, writes, 1)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(writes[0], &decoded))
	assert.Equal(t, "user", decoded["type"])

	require.NoError(t, bs.Close())
	_, stillOpen := <-bs.Messages()
	assert.False(t, stillOpen)
}

func TestCapabilities(t *testing.T) {
	a := New(launcher.New(), Config{})
	assert.Equal(t, "claude", a.Name())
	caps := a.Capabilities()
	assert.True(t, caps.Streaming)
	assert.True(t, caps.Permissions)
	assert.Equal(t, session.AvailabilityLocal, caps.Availability)
	assert.False(t, caps.Teams)
}
