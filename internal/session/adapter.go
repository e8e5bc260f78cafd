package session

import (
	"context"
	"errors"

	"github.com/sessionbroker/broker/pkg/types"
)

// Errors a BackendAdapter or BackendSession may return (spec §4.1,
// SPEC_FULL A.2).
var (
	ErrBackendUnavailable  = errors.New("adapter: backend unavailable")
	ErrAuthRequired        = errors.New("adapter: authentication required")
	ErrConnectTimeout      = errors.New("adapter: connect timed out")
	ErrUnsupportedOperation = errors.New("adapter: unsupported operation")
	ErrSessionClosed       = errors.New("session: closed")
)

// Availability distinguishes backends that run as a local subprocess
// from those reachable over the network.
type Availability string

const (
	AvailabilityLocal  Availability = "local"
	AvailabilityRemote Availability = "remote"
)

// Capabilities is a BackendAdapter's static capability descriptor
// (spec §4.1) — a plain value, not behavior.
type Capabilities struct {
	Streaming    bool
	Permissions  bool
	SlashCommands bool
	Availability Availability
	Teams        bool
}

// ConnectOptions carries per-connect parameters a BackendAdapter needs
// to start or resume a backend session.
type ConnectOptions struct {
	Cwd              string
	Model            string
	BackendSessionID string // non-empty to resume
	AdapterConfig    types.AdapterConfig
}

// BackendSession is the uniform handle to one live backend connection
// (spec §4.1). send is non-blocking; Messages yields in
// backend-produced order and closes when the backend terminates.
type BackendSession interface {
	SessionID() string
	Send(msg *types.UnifiedMessage) error
	SendRaw(raw string) error
	Messages() <-chan *types.UnifiedMessage
	Close() error
}

// BackendAdapter is the polymorphic boundary to any agent backend
// (spec §4.1). Forward adapters implement only Connect; inverted
// adapters additionally implement InvertedAdapter.
type BackendAdapter interface {
	Name() string
	Capabilities() Capabilities
	Connect(ctx context.Context, sessionID string, opts ConnectOptions) (BackendSession, error)
}

// InvertedAdapter is implemented by adapters whose backend dials back
// into the broker (a spawned subprocess) rather than being dialed by
// it. Connect is called first and is expected to block (or park)
// until DeliverSocket attaches the real connection.
type InvertedAdapter interface {
	BackendAdapter
	DeliverSocket(sessionID string, socket any) bool
	CancelPending(sessionID string)
}

// AsInverted reports whether adapter also implements InvertedAdapter.
func AsInverted(adapter BackendAdapter) (InvertedAdapter, bool) {
	inv, ok := adapter.(InvertedAdapter)
	return inv, ok
}

// AdapterResolver looks up a BackendAdapter by name (spec §4.9, §4.10:
// "adapterResolver.resolve(adapterName)"). Implemented by the adapter
// package's Registry; defined here, at the point of consumption, so
// the manager and transport hub can depend on it without this package
// importing concrete adapters.
type AdapterResolver interface {
	Resolve(name string) (BackendAdapter, bool)
	Default() BackendAdapter
	Shutdown(ctx context.Context)
}
