package gateway

import (
	"context"
	"testing"
	"time"

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

// fakeConsumerSocket is a minimal session.ConsumerSocket that records
// every frame it's asked to send, and can be told to fail.
type fakeConsumerSocket struct {
	sent    []any
	failing bool
}

func (f *fakeConsumerSocket) Send(frame any) error {
	if f.failing {
		return assert.AnError
	}
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeConsumerSocket) BufferedAmount() int { return 0 }
func (f *fakeConsumerSocket) Close(int, string) error { return nil }

type fakeBigSocket struct{ fakeConsumerSocket }

func (f *fakeBigSocket) BufferedAmount() int { return MaxBufferedBytes + 1 }

// fakeAdapterNoop connects every session successfully with a no-op
// backend, letting broadcaster tests get a tracked Runtime without a
// real subprocess.
type fakeAdapterNoop struct{ name string }

func (a *fakeAdapterNoop) Name() string { return a.name }
func (a *fakeAdapterNoop) Capabilities() session.Capabilities {
	return session.Capabilities{Streaming: true, Availability: session.AvailabilityLocal}
}
func (a *fakeAdapterNoop) Connect(ctx context.Context, sessionID string, opts session.ConnectOptions) (session.BackendSession, error) {
	return &fakeBackendNoop{id: sessionID, msgs: make(chan *types.UnifiedMessage)}, nil
}

type fakeBackendNoop struct {
	id   string
	msgs chan *types.UnifiedMessage
}

func (f *fakeBackendNoop) SessionID() string                     { return f.id }
func (f *fakeBackendNoop) Send(*types.UnifiedMessage) error       { return nil }
func (f *fakeBackendNoop) SendRaw(string) error                   { return nil }
func (f *fakeBackendNoop) Messages() <-chan *types.UnifiedMessage { return f.msgs }
func (f *fakeBackendNoop) Close() error                           { return nil }

type fakeResolverNoop struct{ adapter *fakeAdapterNoop }

func (r *fakeResolverNoop) Resolve(name string) (session.BackendAdapter, bool) {
	if name != r.adapter.name {
		return nil, false
	}
	return r.adapter, true
}
func (r *fakeResolverNoop) Default() session.BackendAdapter { return r.adapter }
func (r *fakeResolverNoop) Shutdown(ctx context.Context)    {}

type discardBroadcaster struct{}

func (discardBroadcaster) Broadcast(*session.Session, any)               {}
func (discardBroadcaster) BroadcastToParticipants(*session.Session, any) {}
func (discardBroadcaster) SendTo(*session.ConsumerHandle, any)           {}

func newTestManagerWithRuntime(t *testing.T) (*manager.Manager, *session.Runtime) {
	t.Helper()
	store := storage.NewSessionStorage(t.TempDir())
	repo := session.NewRepository(store, 100)
	reg := registry.New(store)
	caps := session.NewCapabilitiesPolicy(0)
	router := session.NewRouter(repo, discardBroadcaster{}, caps)
	perms := permission.NewBridge(0)
	compaction := session.NewCompactionPolicy(0)

	cfg := types.DefaultConfig()
	adapter := &fakeAdapterNoop{name: "claude"}

	m := manager.New(cfg, repo, reg, &fakeResolverNoop{adapter: adapter}, launcher.New(), discardBroadcaster{}, perms, router, caps, compaction)

	rt, err := m.CreateSession(context.Background(), "sess-bcast", "claude", "/tmp", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rt.Session().HasBackend() }, time.Second, 10*time.Millisecond)
	return m, rt
}

func TestBroadcastSkipsBackloggedSocket(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	b := NewBroadcaster()
	b.SetManager(m)

	good := &fakeConsumerSocket{}
	bad := &fakeBigSocket{}

	rt.AddConsumer(&session.ConsumerHandle{ConnID: "good", Socket: good, Identity: types.ConsumerIdentity{Role: types.RoleParticipant}})
	rt.AddConsumer(&session.ConsumerHandle{ConnID: "bad", Socket: bad, Identity: types.ConsumerIdentity{Role: types.RoleParticipant}})

	b.Broadcast(rt.Session(), map[string]string{"type": "ping"})

	assert.Len(t, good.sent, 1)
	assert.Empty(t, bad.sent)
}

func TestBroadcastToParticipantsSkipsObservers(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	b := NewBroadcaster()
	b.SetManager(m)

	participant := &fakeConsumerSocket{}
	observer := &fakeConsumerSocket{}

	rt.AddConsumer(&session.ConsumerHandle{ConnID: "p", Socket: participant, Identity: types.ConsumerIdentity{Role: types.RoleParticipant}})
	rt.AddConsumer(&session.ConsumerHandle{ConnID: "o", Socket: observer, Identity: types.ConsumerIdentity{Role: types.RoleObserver}})

	b.BroadcastToParticipants(rt.Session(), map[string]string{"type": "permission_request"})

	assert.Len(t, participant.sent, 1)
	assert.Empty(t, observer.sent)
}

func TestBroadcastDetachesFailingSocket(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	b := NewBroadcaster()
	b.SetManager(m)

	failing := &fakeConsumerSocket{failing: true}
	rt.AddConsumer(&session.ConsumerHandle{ConnID: "dead", Socket: failing, Identity: types.ConsumerIdentity{Role: types.RoleParticipant}})

	b.Broadcast(rt.Session(), map[string]string{"type": "ping"})

	assert.Len(t, rt.Session().ConsumersSnapshot(), 0)
}

func TestSendToDeliversSingleFrame(t *testing.T) {
	m, rt := newTestManagerWithRuntime(t)
	b := NewBroadcaster()
	b.SetManager(m)

	sock := &fakeConsumerSocket{}
	handle := &session.ConsumerHandle{ConnID: "solo", Socket: sock, Identity: types.ConsumerIdentity{Role: types.RoleParticipant}}
	rt.AddConsumer(handle)

	b.SendTo(handle, map[string]string{"type": "session_name_update"})
	assert.Len(t, sock.sent, 1)
}
