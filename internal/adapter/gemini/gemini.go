// Package gemini implements the forward BackendAdapter for Google's
// gemini CLI. Like codex it is a forward adapter (the broker dials
// out), but its transport is a local subprocess read directly off
// stdout rather than network JSON-RPC: the launcher spawns the CLI and
// hands scanned stdout lines straight to the adapter, with no
// dial-back step, unlike the inverted claude adapter.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// Adapter is the gemini BackendAdapter.
type Adapter struct {
	launcher *launcher.Launcher
	command  []string
	env      map[string]string
}

// Config configures the gemini adapter.
type Config struct {
	Command []string
	Env     map[string]string
}

// New creates a gemini Adapter backed by l.
func New(l *launcher.Launcher, cfg Config) *Adapter {
	cmd := cfg.Command
	if len(cmd) == 0 {
		cmd = []string{"gemini"}
	}
	return &Adapter{launcher: l, command: cmd, env: cfg.Env}
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  session.AvailabilityLocal,
		Teams:         false,
	}
}

// Connect spawns the CLI in JSON streaming mode and returns a
// BackendSession fed directly from the subprocess's stdout.
func (a *Adapter) Connect(ctx context.Context, sessionID string, opts session.ConnectOptions) (session.BackendSession, error) {
	args := append([]string{}, a.command[1:]...)
	args = append(args, "--output-format", "json-stream")
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.BackendSessionID != "" {
		args = append(args, "--resume", opts.BackendSessionID)
	}

	gs := &geminiSession{
		sessionID: sessionID,
		msgs:      make(chan *types.UnifiedMessage, 64),
	}

	proc, err := a.launcher.Spawn(ctx, launcher.Spec{
		SessionID: sessionID,
		Command:   append([]string{a.command[0]}, args...),
		Dir:       opts.Cwd,
		Env:       mergeEnv(a.env, opts.AdapterConfig.Environment),
	}, func(line []byte) {
		if msg := fromWire(line); msg != nil {
			select {
			case gs.msgs <- msg:
			default:
			}
		}
	}, func(exitCode int, _ error) {
		gs.closeOnce.Do(func() { close(gs.msgs) })
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}

	gs.proc = proc
	gs.launcher = a.launcher
	return gs, nil
}

func mergeEnv(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// geminiSession implements session.BackendSession directly over a
// launched subprocess's stdin/stdout.
type geminiSession struct {
	sessionID string
	proc      *launcher.Process
	launcher  *launcher.Launcher

	msgs      chan *types.UnifiedMessage
	closeOnce sync.Once
}

func (g *geminiSession) SessionID() string { return g.sessionID }

func (g *geminiSession) Send(msg *types.UnifiedMessage) error {
	data, err := json.Marshal(toWire(msg))
	if err != nil {
		return err
	}
	return g.SendRaw(string(data))
}

func (g *geminiSession) SendRaw(raw string) error {
	if exited, _ := g.proc.Exited(); exited {
		return session.ErrSessionClosed
	}
	stdin := g.proc.Stdin()
	if stdin == nil {
		return session.ErrSessionClosed
	}
	if _, err := stdin.Write([]byte(raw + "\n")); err != nil {
		return err
	}
	return nil
}

func (g *geminiSession) Messages() <-chan *types.UnifiedMessage { return g.msgs }

func (g *geminiSession) Close() error {
	g.launcher.Kill(g.sessionID)
	return nil
}

// DefaultIdleTimeout is a two-minute output-idle bound for gemini
// sessions. Nothing in the broker reads it: the manager's watchdog
// reacts only to backend exits and runs no stall detection.
const DefaultIdleTimeout = 2 * time.Minute
