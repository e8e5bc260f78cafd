package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/pkg/types"
)

func newTestGatewayWithRuntime(t *testing.T, authenticator Authenticator) (*Gateway, string, func()) {
	t.Helper()
	m, rt := newTestManagerWithRuntime(t)
	gw := New(types.DefaultConfig(), m, authenticator)

	r := chi.NewRouter()
	r.Get("/ws/{sessionID}", gw.ServeConsumer)
	ts := httptest.NewServer(r)

	return gw, rt.Session().ID, ts.Close
}

func dialConsumer(t *testing.T, base, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + base[len("http"):] + "/ws/" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServeConsumerReplaysIdentityThenSessionInit(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	gw := New(types.DefaultConfig(), m, nil)

	r := chi.NewRouter()
	r.Get("/ws/{sessionID}", gw.ServeConsumer)
	ts := httptest.NewServer(r)
	defer ts.Close()

	conn := dialConsumer(t, ts.URL, rt.Session().ID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	identity := readFrame(t, conn)
	assert.Equal(t, "identity", identity["type"])
	assert.Equal(t, "participant", identity["role"])

	init := readFrame(t, conn)
	assert.Equal(t, "session_init", init["type"])
}

func TestServeConsumerUnknownSessionReturns404(t *testing.T) {
	m, _ := newTestManagerWithRuntime(t)
	gw := New(types.DefaultConfig(), m, nil)

	r := chi.NewRouter()
	r.Get("/ws/{sessionID}", gw.ServeConsumer)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeConsumerRejectsUnauthenticated(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	cfg := types.DefaultConfig()
	cfg.AuthTimeoutMs = 100
	gw := New(cfg, m, &fakeAuthenticator{err: assert.AnError})

	r := chi.NewRouter()
	r.Get("/ws/{sessionID}", gw.ServeConsumer)
	ts := httptest.NewServer(r)
	defer ts.Close()

	conn := dialConsumer(t, ts.URL, rt.Session().ID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, int(websocket.StatusPolicyViolation), CloseStatus(err))
}

func TestReadLoopRejectsObserverParticipantOnlyFrame(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	gw := New(types.DefaultConfig(), m, &fakeAuthenticator{identity: &types.ConsumerIdentity{UserID: "obs-1", Role: types.RoleObserver}})

	r := chi.NewRouter()
	r.Get("/ws/{sessionID}", gw.ServeConsumer)
	ts := httptest.NewServer(r)
	defer ts.Close()

	conn := dialConsumer(t, ts.URL, rt.Session().ID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// drain replay-on-join frames: identity, session_init,
	// presence_update, cli_connected (no history/capabilities/pending
	// permissions/queued message for a fresh session).
	for i := 0; i < 4; i++ {
		_ = readFrame(t, conn)
	}

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText,
		[]byte(`{"type":"user_message","content":"hi"}`)))

	errFrame := readFrame(t, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.Contains(t, errFrame["message"], "Observers cannot send")
}
