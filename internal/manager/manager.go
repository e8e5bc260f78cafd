package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/logging"
	"github.com/sessionbroker/broker/internal/permission"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// ConnectTimeout bounds how long a single backend connect attempt
// (spawn + handshake, or inverted dial-back wait) may take before the
// manager gives up and treats it as a failure.
const ConnectTimeout = 30 * time.Second

// reapInterval is how often the idle reaper scans for sessions to
// close. Independent of IdleSessionTimeoutMs, which sets the threshold.
const reapInterval = 30 * time.Second

// Manager is the Session Manager facade (spec §4.9). It owns the only
// map from session id to live Runtime; the gateway and cmd/brokerd
// reach sessions exclusively through it.
type Manager struct {
	cfg         *types.Config
	repo        *session.Repository
	registry    *registry.Registry
	adapters    session.AdapterResolver
	launcher    *launcher.Launcher
	broadcaster session.Broadcaster
	permissions *permission.Bridge
	router      *session.Router
	caps        *session.CapabilitiesPolicy
	compaction  *session.CompactionPolicy
	log         zerolog.Logger

	mu           sync.RWMutex
	runtimes     map[string]*session.Runtime
	lastRelaunch map[string]time.Time

	stop      chan struct{}
	wg        sync.WaitGroup
	unsubExit func()
}

// New builds a Manager wired to its collaborators. repo, registry,
// adapters, launcher, broadcaster, permissions, router, caps, and
// compaction are each expected to already be constructed by the
// caller (cmd/brokerd's wiring); Manager only orchestrates them.
func New(
	cfg *types.Config,
	repo *session.Repository,
	reg *registry.Registry,
	adapters session.AdapterResolver,
	l *launcher.Launcher,
	broadcaster session.Broadcaster,
	permissions *permission.Bridge,
	router *session.Router,
	caps *session.CapabilitiesPolicy,
	compaction *session.CompactionPolicy,
) *Manager {
	return &Manager{
		cfg:          cfg,
		repo:         repo,
		registry:     reg,
		adapters:     adapters,
		launcher:     l,
		broadcaster:  broadcaster,
		permissions:  permissions,
		router:       router,
		caps:         caps,
		compaction:   compaction,
		log:          logging.Component("manager"),
		runtimes:     make(map[string]*session.Runtime),
		lastRelaunch: make(map[string]time.Time),
		stop:         make(chan struct{}),
	}
}

// Runtime returns the live Runtime for sessionID, if one is tracked.
func (m *Manager) Runtime(sessionID string) (*session.Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[sessionID]
	return rt, ok
}

// Entry returns the registry entry for sessionID, for callers (the
// transport hub) that need to check its lifecycle state without a
// direct dependency on the registry package.
func (m *Manager) Entry(sessionID string) (*types.RegistryEntry, error) {
	return m.registry.Get(sessionID)
}

// AdapterForSession resolves the BackendAdapter a session is currently
// assigned, for the transport hub to route an inverted adapter's
// dial-back socket to the right DeliverSocket call (spec §4.10).
func (m *Manager) AdapterForSession(sessionID string) (session.BackendAdapter, bool) {
	entry, err := m.registry.Get(sessionID)
	if err != nil {
		return nil, false
	}
	return m.adapters.Resolve(entry.AdapterName)
}

// CreateSession registers a new session and starts connecting it to
// adapterName in the background, returning the Runtime immediately so
// callers (the gateway's session-create handler) don't block on the
// backend's startup latency. sessionID may be empty, in which case a
// fresh id is generated.
func (m *Manager) CreateSession(ctx context.Context, sessionID, adapterName, cwd, model string) (*session.Runtime, error) {
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	if adapterName == "" {
		if def := m.adapters.Default(); def != nil {
			adapterName = def.Name()
		}
	}
	if adapterName == "" {
		return nil, fmt.Errorf("manager: no adapter available to create session %s", sessionID)
	}

	s := m.repo.GetOrCreate(sessionID)
	rt := session.NewRuntime(s, m.repo, m.router, m.broadcaster, m.permissions, m.compaction)

	m.mu.Lock()
	m.runtimes[sessionID] = rt
	m.mu.Unlock()

	entry := &types.RegistryEntry{
		SessionID:   sessionID,
		Cwd:         cwd,
		CreatedAt:   time.Now().UnixMilli(),
		AdapterName: adapterName,
		State:       registry.StateStarting,
		Model:       model,
	}
	if err := m.registry.Create(ctx, entry); err != nil {
		return nil, err
	}

	go m.connectAndTrack(rt, entry, session.ConnectOptions{
		Cwd:           cwd,
		Model:         model,
		AdapterConfig: m.cfg.ProviderConfig[adapterName],
	})

	return rt, nil
}

// connectAndTrack runs one connect attempt to completion and updates
// the registry entry's lifecycle state with the outcome.
func (m *Manager) connectAndTrack(rt *session.Runtime, entry *types.RegistryEntry, opts session.ConnectOptions) {
	connCtx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()

	if err := m.connectBackend(connCtx, rt, entry.AdapterName, opts); err != nil {
		m.log.Error().Err(err).Str("sessionId", entry.SessionID).Str("adapter", entry.AdapterName).Msg("initial backend connect failed")
		_ = m.registry.SetState(context.Background(), entry.SessionID, registry.StateExited)
		return
	}
	_ = m.registry.SetState(context.Background(), entry.SessionID, registry.StateConnected)
}

// connectBackend resolves adapterName (falling back to the default
// adapter if unknown), connects, attaches the resulting BackendSession
// to rt, and starts pumping its messages through the runtime.
func (m *Manager) connectBackend(ctx context.Context, rt *session.Runtime, adapterName string, opts session.ConnectOptions) error {
	adapter, ok := m.adapters.Resolve(adapterName)
	if !ok {
		adapter = m.adapters.Default()
		if adapter == nil {
			return fmt.Errorf("manager: adapter %q not found and no default configured", adapterName)
		}
		adapterName = adapter.Name()
	}

	backend, err := adapter.Connect(ctx, rt.Session().ID, opts)
	if err != nil {
		return err
	}

	rt.AttachBackendConnection(adapterName, backend, adapter.Capabilities())
	go m.pumpMessages(rt, backend)
	return nil
}

// pumpMessages forwards every message a backend produces through the
// runtime until the backend's channel closes (connection lost or
// closed deliberately), then signals the drop so the watchdog can
// decide whether to relaunch.
func (m *Manager) pumpMessages(rt *session.Runtime, backend session.BackendSession) {
	ctx := context.Background()
	for msg := range backend.Messages() {
		rt.HandleBackendMessage(ctx, msg)
	}
	rt.HandleSignal("exited")
}

// CloseSession tears down a session entirely: disconnects every
// consumer, closes the backend connection, kills any subprocess still
// tracked for it, and removes it from the repository and registry.
func (m *Manager) CloseSession(ctx context.Context, sessionID, reason string) error {
	rt, ok := m.Runtime(sessionID)
	if !ok {
		return registry.ErrSessionNotFound
	}

	rt.CloseAllConsumers(1001, reason)
	rt.CloseBackendConnection()
	m.launcher.Kill(sessionID)

	m.mu.Lock()
	delete(m.runtimes, sessionID)
	delete(m.lastRelaunch, sessionID)
	m.mu.Unlock()

	if err := m.repo.Remove(ctx, sessionID); err != nil {
		return err
	}
	if err := m.registry.Remove(ctx, sessionID); err != nil {
		return err
	}

	event.Publish(event.Event{Type: event.SessionClosed, Data: event.SessionClosedData{SessionID: sessionID, Reason: reason}})
	return nil
}

// RestoreAll loads every persisted registry entry and session snapshot
// (in that order, per spec §4.9: the registry is the authoritative
// index, the repository's snapshots are its bulkier payload) and
// kicks off a reconnect for each non-archived session, returning the
// number of sessions restored.
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	if _, err := m.registry.RestoreAll(ctx); err != nil {
		return 0, fmt.Errorf("restore registry: %w", err)
	}
	n, err := m.repo.RestoreAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}

	for _, entry := range m.registry.List() {
		if entry.Archived {
			continue
		}
		s := m.repo.Get(entry.SessionID)
		if s == nil {
			continue
		}

		rt := session.NewRuntime(s, m.repo, m.router, m.broadcaster, m.permissions, m.compaction)
		m.mu.Lock()
		m.runtimes[entry.SessionID] = rt
		m.mu.Unlock()

		opts := session.ConnectOptions{
			Cwd:              entry.Cwd,
			Model:            entry.Model,
			BackendSessionID: entry.BackendSessionID,
			AdapterConfig:    m.cfg.ProviderConfig[entry.AdapterName],
		}
		go m.connectAndTrack(rt, entry, opts)
	}

	return n, nil
}

// Start subscribes the reconnect watchdog to backend exit events and
// starts the idle reaper loop. Call once, after RestoreAll.
func (m *Manager) Start(ctx context.Context) {
	m.unsubExit = event.Subscribe(event.BackendExited, func(e event.Event) {
		data, ok := e.Data.(event.BackendExitedData)
		if !ok {
			return
		}
		m.handleBackendExited(data)
	})

	m.wg.Add(1)
	go m.reapLoop(ctx)
}

func (m *Manager) reapLoop(ctx context.Context) {
	defer m.wg.Done()

	if m.cfg.IdleSessionTimeoutMs <= 0 {
		return
	}

	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle closes any session with no attached consumers whose last
// activity predates IdleSessionTimeoutMs (spec §4.9 idle reaper).
func (m *Manager) reapIdle() {
	timeoutMs := int64(m.cfg.IdleSessionTimeoutMs)
	now := time.Now().UnixMilli()

	for _, s := range m.repo.List() {
		if s.ConsumerCount() > 0 {
			continue
		}
		if now-s.LastActivity() < timeoutMs {
			continue
		}

		event.Publish(event.Event{Type: event.SessionIdle, Data: event.SessionClosedData{SessionID: s.ID}})
		if err := m.CloseSession(context.Background(), s.ID, "idle_timeout"); err != nil {
			m.log.Warn().Err(err).Str("sessionId", s.ID).Msg("idle reaper failed to close session")
		}
	}
}

// Shutdown stops the watchdog and reaper, disconnects every tracked
// session's consumers and backend, kills any remaining subprocesses,
// and releases the adapter registry (spec §4.9 shutdown sequence).
func (m *Manager) Shutdown(ctx context.Context) {
	if m.unsubExit != nil {
		m.unsubExit()
	}
	close(m.stop)
	m.wg.Wait()

	for _, rt := range m.allRuntimes() {
		rt.CloseAllConsumers(1001, "server_shutdown")
		rt.CloseBackendConnection()
	}

	m.launcher.KillAll()
	m.adapters.Shutdown(ctx)
}

func (m *Manager) allRuntimes() []*session.Runtime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Runtime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		out = append(out, rt)
	}
	return out
}
