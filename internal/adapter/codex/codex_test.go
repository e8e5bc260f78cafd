package codex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// fakeCodexServer answers session/start, session/pullEvents and
// session/sendMessage with scripted JSON-RPC responses.
func fakeCodexServer(t *testing.T, eventsOnce [][]byte) *httptest.Server {
	t.Helper()
	served := false
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result json.RawMessage
		switch req.Method {
		case "session/start":
			result, _ = json.Marshal(map[string]string{"sessionId": "backend-123"})
		case "session/pullEvents":
			if !served {
				served = true
				arr, _ := json.Marshal(eventsOnce)
				result = arr
			} else {
				result, _ = json.Marshal([]json.RawMessage{})
			}
		case "session/sendMessage", "session/stop":
			result, _ = json.Marshal(map[string]any{"ok": true})
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestConnectAndPollTranslatesEvents(t *testing.T) {
	msgEvent, _ := json.Marshal(map[string]any{"kind": "message", "text": "hi there"})
	srv := fakeCodexServer(t, [][]byte{msgEvent})
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	bs, err := a.Connect(context.Background(), "sess-1", session.ConnectOptions{})
	require.NoError(t, err)
	defer bs.Close()

	select {
	case msg := <-bs.Messages():
		require.NotNil(t, msg)
		assert.Equal(t, types.TypeAssistant, msg.Type)
		assert.Equal(t, "hi there", msg.Text())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for polled event")
	}
}

func TestSendPostsMessage(t *testing.T) {
	srv := fakeCodexServer(t, nil)
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	bs, err := a.Connect(context.Background(), "sess-2", session.ConnectOptions{})
	require.NoError(t, err)
	defer bs.Close()

	err = bs.Send(&types.UnifiedMessage{
		Type:    types.TypeUserMessage,
		Content: []types.UnifiedContent{types.ContentText{Text: "go"}},
	})
	assert.NoError(t, err)
}

func TestConnectRequiresBaseURL(t *testing.T) {
	a := New(Config{})
	_, err := a.Connect(context.Background(), "sess-3", session.ConnectOptions{})
	assert.ErrorIs(t, err, session.ErrBackendUnavailable)
}

func TestCapabilities(t *testing.T) {
	a := New(Config{BaseURL: "http://example.invalid"})
	assert.Equal(t, "codex", a.Name())
	caps := a.Capabilities()
	assert.Equal(t, session.AvailabilityRemote, caps.Availability)
	assert.False(t, caps.SlashCommands)
}
