// Package adapter wires together the concrete BackendAdapter
// implementations (claude, codex, gemini) behind a single Registry so
// the session manager and transport hub never import a specific
// backend package (spec §4.9, §4.10: "adapterResolver.resolve(name)").
package adapter

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/adapter/claude"
	"github.com/sessionbroker/broker/internal/adapter/codex"
	"github.com/sessionbroker/broker/internal/adapter/gemini"
	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// DefaultAdapterName is used when a session is created without an
// explicit backend selection.
const DefaultAdapterName = "claude"

// Registry resolves adapter names to BackendAdapter instances. It
// implements session.AdapterResolver.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]session.BackendAdapter
	defName  string
}

// New builds a Registry from per-backend configuration, skipping any
// entry marked Disabled. launcher is shared by the local-subprocess
// adapters (claude, gemini); codex dials out over HTTP and needs none.
func New(l *launcher.Launcher, cfg map[string]types.AdapterConfig) *Registry {
	r := &Registry{adapters: make(map[string]session.BackendAdapter), defName: DefaultAdapterName}

	if c, ok := cfg["claude"]; !ok || !c.Disabled {
		r.adapters["claude"] = claude.New(l, claude.Config{Command: cfg["claude"].Command, Env: cfg["claude"].Environment})
	}
	if c, ok := cfg["codex"]; !ok || !c.Disabled {
		c := cfg["codex"]
		r.adapters["codex"] = codex.New(codex.Config{BaseURL: c.URL, APIKey: c.APIKey})
	}
	if c, ok := cfg["gemini"]; !ok || !c.Disabled {
		r.adapters["gemini"] = gemini.New(l, gemini.Config{Command: cfg["gemini"].Command, Env: cfg["gemini"].Environment})
	}

	if _, ok := r.adapters[r.defName]; !ok {
		for name := range r.adapters {
			r.defName = name
			break
		}
	}

	return r
}

// Resolve looks up a registered adapter by name.
func (r *Registry) Resolve(name string) (session.BackendAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Default returns the adapter used when no name is specified, or nil
// if no adapter is registered.
func (r *Registry) Default() session.BackendAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[r.defName]
}

// Shutdown releases registry-held resources. Per-session cleanup
// (killing launched processes, cancelling pending dial-backs) is the
// manager's job, since only it tracks which sessions are live; this
// just logs so adapter shutdown order is visible in the broker's logs.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.adapters {
		log.Debug().Str("adapter", name).Msg("adapter registry: shutdown")
	}
}

var _ session.AdapterResolver = (*Registry)(nil)
