package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// Reconnect backoff parameters, carried over from the teacher's
// agentic-loop API retry policy (internal/session/loop.go
// newRetryBackoff) and repurposed here for backend reconnection
// instead of LLM completion retries.
const (
	ReconnectInitialInterval = time.Second
	ReconnectMaxInterval     = 30 * time.Second
	ReconnectMaxElapsedTime  = 2 * time.Minute
	ReconnectRandomization   = 0.5
	ReconnectMultiplier      = 2.0
	ReconnectMaxRetries      = 3
)

func newReconnectBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ReconnectInitialInterval
	b.MaxInterval = ReconnectMaxInterval
	b.MaxElapsedTime = ReconnectMaxElapsedTime
	b.RandomizationFactor = ReconnectRandomization
	b.Multiplier = ReconnectMultiplier
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, ReconnectMaxRetries), ctx)
}

// handleBackendExited is the watchdog's entry point, invoked for every
// event.BackendExited. A session no longer tracked, archived, or
// still within its relaunch dedup window is left alone.
func (m *Manager) handleBackendExited(data event.BackendExitedData) {
	id := data.SessionID

	rt, ok := m.Runtime(id)
	if !ok {
		return
	}
	entry, err := m.registry.Get(id)
	if err != nil || entry.Archived {
		return
	}

	m.mu.Lock()
	now := time.Now()
	dedup := time.Duration(m.cfg.RelaunchDedupMs) * time.Millisecond
	if last, seen := m.lastRelaunch[id]; seen && now.Sub(last) < dedup {
		m.mu.Unlock()
		return
	}
	m.lastRelaunch[id] = now
	m.mu.Unlock()

	go m.reconnect(rt, entry)
}

// reconnect retries connectBackend with exponential backoff until it
// succeeds, the retry budget is exhausted, or the session disappears.
// Each failed attempt updates the session's WatchdogInfo so consumers
// see reconnect progress; exhausting retries opens the circuit and
// marks the registry entry exited.
func (m *Manager) reconnect(rt *session.Runtime, entry *types.RegistryEntry) {
	ctx := context.Background()
	b := newReconnectBackoff(ctx)
	failures := 0

	err := backoff.Retry(func() error {
		if _, ok := m.Runtime(entry.SessionID); !ok {
			return backoff.Permanent(context.Canceled)
		}

		opts := session.ConnectOptions{
			Cwd:              entry.Cwd,
			Model:            entry.Model,
			BackendSessionID: rt.BackendSessionID(),
			AdapterConfig:    m.cfg.ProviderConfig[entry.AdapterName],
		}
		connErr := m.connectBackend(ctx, rt, entry.AdapterName, opts)
		if connErr != nil {
			failures++
			rt.SetWatchdog(&types.WatchdogInfo{ConsecutiveFailures: failures, LastError: connErr.Error()})
			event.Publish(event.Event{
				Type: event.BackendRelaunchNeeded,
				Data: event.BackendRelaunchNeededData{SessionID: entry.SessionID, ConsecutiveFailures: failures},
			})
			return connErr
		}
		return nil
	}, b)

	if err == nil || err == context.Canceled {
		return
	}

	log.Error().Err(err).Str("sessionId", entry.SessionID).Msg("reconnect watchdog exhausted retries, opening circuit")
	rt.SetWatchdog(&types.WatchdogInfo{ConsecutiveFailures: failures, CircuitOpen: true, LastError: err.Error()})
	_ = m.registry.SetState(ctx, entry.SessionID, registry.StateExited)
	event.Publish(event.Event{Type: event.SessionDegraded, Data: event.SessionDegradedData{SessionID: entry.SessionID, LastError: err.Error()}})
}
