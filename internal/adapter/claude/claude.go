// Package claude implements the inverted BackendAdapter for Anthropic's
// claude CLI (spec §4.1, §4.10): the broker spawns the CLI as a local
// subprocess, and the CLI dials back into the broker's Transport Hub
// carrying its `--output-format stream-json` NDJSON protocol over that
// connection instead of over stdout pipes. Grounded in the same
// argv/NDJSON shape the teacher's subprocess/stdio patterns use
// (internal/mcp/transport.go's StdioTransport, internal/executor's
// process management).
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/launcher"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// DuplexSocket is the minimal bidirectional framed connection the
// Transport Hub delivers on DeliverSocket. Defined here, at the point
// of consumption, so the gateway package can hand over its WebSocket
// wrapper without either package importing the other.
type DuplexSocket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DefaultStartupTimeout bounds how long Connect waits for the CLI to
// dial back before giving up.
const DefaultStartupTimeout = 30 * time.Second

// Adapter is the claude BackendAdapter.
type Adapter struct {
	launcher   *launcher.Launcher
	command    []string
	env        map[string]string
	dialTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan DuplexSocket
}

// Config configures the claude adapter.
type Config struct {
	// Command overrides the default ["claude"] argv prefix (tests use
	// this to substitute a fake CLI).
	Command []string
	Env     map[string]string
}

// New creates a claude Adapter backed by l.
func New(l *launcher.Launcher, cfg Config) *Adapter {
	cmd := cfg.Command
	if len(cmd) == 0 {
		cmd = []string{"claude"}
	}
	return &Adapter{
		launcher:    l,
		command:     cmd,
		env:         cfg.Env,
		dialTimeout: DefaultStartupTimeout,
		pending:     make(map[string]chan DuplexSocket),
	}
}

func (a *Adapter) Name() string { return "claude" }

func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: true,
		Availability:  session.AvailabilityLocal,
		Teams:         false,
	}
}

// Connect spawns the CLI (passing --resume when opts carries a backend
// session id to resume) and blocks until the CLI dials back through
// DeliverSocket, or until dialTimeout elapses.
func (a *Adapter) Connect(ctx context.Context, sessionID string, opts session.ConnectOptions) (session.BackendSession, error) {
	wait := make(chan DuplexSocket, 1)
	a.mu.Lock()
	a.pending[sessionID] = wait
	a.mu.Unlock()

	args := append([]string{}, a.command[1:]...)
	args = append(args,
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
		"--permission-mode", "default",
		"--include-partial-messages",
		"--broker-session", sessionID,
	)
	if opts.BackendSessionID != "" {
		args = append(args, "--resume", opts.BackendSessionID)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}

	_, err := a.launcher.Spawn(ctx, launcher.Spec{
		SessionID: sessionID,
		Command:   append([]string{a.command[0]}, args...),
		Dir:       opts.Cwd,
		Env:       mergeEnv(a.env, opts.AdapterConfig.Environment),
	}, func(line []byte) {
		log.Debug().Str("sessionId", sessionID).Bytes("line", line).Msg("claude: stdout")
	}, nil)
	if err != nil {
		a.CancelPending(sessionID)
		return nil, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}

	timeout := time.Duration(opts.AdapterConfig.StartupTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = a.dialTimeout
	}

	select {
	case sock := <-wait:
		return newBackendSession(sessionID, sock), nil
	case <-time.After(timeout):
		a.CancelPending(sessionID)
		a.launcher.Kill(sessionID)
		return nil, session.ErrConnectTimeout
	case <-ctx.Done():
		a.CancelPending(sessionID)
		a.launcher.Kill(sessionID)
		return nil, ctx.Err()
	}
}

// DeliverSocket attaches the CLI's dial-back connection to the
// pending Connect call for sessionID (spec §4.10 step 4).
func (a *Adapter) DeliverSocket(sessionID string, socket any) bool {
	sock, ok := socket.(DuplexSocket)
	if !ok {
		return false
	}

	a.mu.Lock()
	wait, ok := a.pending[sessionID]
	if ok {
		delete(a.pending, sessionID)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case wait <- sock:
		return true
	default:
		return false
	}
}

// CancelPending abandons a waiting Connect call, if any (spec §4.10
// step 4: "if it returns false... cancelPending").
func (a *Adapter) CancelPending(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, sessionID)
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

// backendSession implements session.BackendSession over a DuplexSocket
// carrying claude's NDJSON protocol.
type backendSession struct {
	sessionID string
	sock      DuplexSocket

	msgs chan *types.UnifiedMessage

	closeOnce sync.Once
}

func newBackendSession(sessionID string, sock DuplexSocket) *backendSession {
	bs := &backendSession{
		sessionID: sessionID,
		sock:      sock,
		msgs:      make(chan *types.UnifiedMessage, 64),
	}
	go bs.readLoop()
	return bs
}

func (b *backendSession) readLoop() {
	defer close(b.msgs)
	ctx := context.Background()
	for {
		line, err := b.sock.Read(ctx)
		if err != nil {
			return
		}
		if msg := fromWire(line); msg != nil {
			b.msgs <- msg
		}
	}
}

func (b *backendSession) SessionID() string { return b.sessionID }

func (b *backendSession) Send(msg *types.UnifiedMessage) error {
	data, err := json.Marshal(toWire(msg))
	if err != nil {
		return err
	}
	return b.sock.Write(context.Background(), data)
}

func (b *backendSession) SendRaw(raw string) error {
	return b.sock.Write(context.Background(), []byte(raw))
}

func (b *backendSession) Messages() <-chan *types.UnifiedMessage { return b.msgs }

func (b *backendSession) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.sock.Close() })
	return err
}
