package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/internal/permission"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/internal/storage"
	"github.com/sessionbroker/broker/pkg/types"
)

// fakeInvertedAdapter parks Connect until DeliverSocket hands it a
// socket, mirroring the claude adapter's dial-back wait (spec §4.10).
type fakeInvertedAdapter struct {
	name string

	mu      sync.Mutex
	pending chan any
	deliver bool // whether the next DeliverSocket call should succeed
}

func newFakeInvertedAdapter(name string) *fakeInvertedAdapter {
	return &fakeInvertedAdapter{name: name, deliver: true}
}

func (a *fakeInvertedAdapter) Name() string { return a.name }
func (a *fakeInvertedAdapter) Capabilities() session.Capabilities {
	return session.Capabilities{Streaming: true, Availability: session.AvailabilityRemote}
}

func (a *fakeInvertedAdapter) Connect(ctx context.Context, sessionID string, opts session.ConnectOptions) (session.BackendSession, error) {
	a.mu.Lock()
	a.pending = make(chan any, 1)
	a.mu.Unlock()

	select {
	case sock := <-a.pending:
		_ = sock
		return &fakeBackendNoop{id: sessionID, msgs: make(chan *types.UnifiedMessage)}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *fakeInvertedAdapter) DeliverSocket(sessionID string, socket any) bool {
	a.mu.Lock()
	ch := a.pending
	ok := a.deliver
	a.mu.Unlock()
	if !ok || ch == nil {
		return false
	}
	ch <- socket
	return true
}

func (a *fakeInvertedAdapter) CancelPending(sessionID string) {}

type fakeInvertedResolver struct{ adapter *fakeInvertedAdapter }

func (r *fakeInvertedResolver) Resolve(name string) (session.BackendAdapter, bool) {
	if name != r.adapter.name {
		return nil, false
	}
	return r.adapter, true
}
func (r *fakeInvertedResolver) Default() session.BackendAdapter { return r.adapter }
func (r *fakeInvertedResolver) Shutdown(ctx context.Context)    {}

func newTestManagerInverted(t *testing.T, adapter *fakeInvertedAdapter) *manager.Manager {
	t.Helper()
	store := storage.NewSessionStorage(t.TempDir())
	repo := session.NewRepository(store, 100)
	reg := registry.New(store)
	caps := session.NewCapabilitiesPolicy(0)
	router := session.NewRouter(repo, discardBroadcaster{}, caps)
	perms := permission.NewBridge(0)
	compaction := session.NewCompactionPolicy(0)
	cfg := types.DefaultConfig()

	return manager.New(cfg, repo, reg, &fakeInvertedResolver{adapter: adapter}, launcher.New(), discardBroadcaster{}, perms, router, caps, compaction)
}

func TestServeDialbackRejectsUnknownSession(t *testing.T) {
	adapter := newFakeInvertedAdapter("claude")
	m := newTestManagerInverted(t, adapter)
	hub := NewTransportHub(m)

	r := chi.NewRouter()
	r.Get("/dialback/{sessionID}", hub.ServeDialback)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/dialback/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeDialbackDeliversAndAttaches(t *testing.T) {
	adapter := newFakeInvertedAdapter("claude")
	m := newTestManagerInverted(t, adapter)
	hub := NewTransportHub(m)

	r := chi.NewRouter()
	r.Get("/dialback/{sessionID}", hub.ServeDialback)
	ts := httptest.NewServer(r)
	defer ts.Close()

	connectDone := make(chan struct{})
	go func() {
		_, _ = m.CreateSession(context.Background(), "sess-dial", "claude", "/tmp", "")
		close(connectDone)
	}()

	require.Eventually(t, func() bool {
		_, err := m.Entry("sess-dial")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	url := "ws" + ts.URL[len("http"):] + "/dialback/sess-dial"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close(websocket.StatusNormalClosure, "")

	select {
	case <-connectDone:
	case <-time.After(2 * time.Second):
		t.Fatal("CreateSession never returned")
	}

	require.Eventually(t, func() bool {
		rt, ok := m.Runtime("sess-dial")
		return ok && rt.Session().HasBackend()
	}, time.Second, 10*time.Millisecond)
}
