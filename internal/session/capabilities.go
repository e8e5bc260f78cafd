package session

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/internal/correlate"
	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/pkg/types"
)

// InitializeTimeout is the default wait for a backend's control_response
// to an initialize control_request (spec §4.7, §5).
const InitializeTimeout = 5 * time.Second

// CapabilitiesPolicy implements the initialize handshake: on first
// session_init it dispatches a control_request and correlates the
// matching control_response, timing out after InitializeTimeout (spec
// §4.7).
type CapabilitiesPolicy struct {
	table   *correlate.Table[*types.Capabilities]
	timeout time.Duration
}

// NewCapabilitiesPolicy creates a policy with the given timeout. A
// zero timeout falls back to InitializeTimeout.
func NewCapabilitiesPolicy(timeout time.Duration) *CapabilitiesPolicy {
	if timeout <= 0 {
		timeout = InitializeTimeout
	}
	return &CapabilitiesPolicy{table: correlate.NewTable[*types.Capabilities](), timeout: timeout}
}

// Begin registers a new initialize request for sessionID and returns
// the fresh request id plus a wait function the caller invokes (from a
// separate goroutine) to receive the eventual Capabilities or a
// timeout.
func (p *CapabilitiesPolicy) Begin(sessionID string) (requestID string, wait func() (*types.Capabilities, bool)) {
	requestID = ulid.Make().String()
	waitFn := p.table.Register(requestID, p.timeout)
	return requestID, waitFn
}

// Resolve delivers a control_response's parsed capabilities for
// requestID. Returns false if the request already timed out, was
// cancelled, or never existed.
func (p *CapabilitiesPolicy) Resolve(requestID string, caps *types.Capabilities) bool {
	return p.table.Resolve(requestID, caps)
}

// Cancel aborts a pending initialize request without resolving it —
// used on disconnect or session close (spec §4.7: "no event").
func (p *CapabilitiesPolicy) Cancel(requestID string) {
	p.table.Cancel(requestID)
}

// Await blocks (in the caller's goroutine) for the outcome of a
// Begin()'d request and emits capabilities:ready or
// capabilities:timeout accordingly (spec §4.7).
func Await(policy *CapabilitiesPolicy, sessionID string, wait func() (*types.Capabilities, bool)) *types.Capabilities {
	caps, delivered := wait()
	if !delivered {
		event.Publish(event.Event{Type: event.CapabilitiesTimeout, Data: event.CapabilitiesTimeoutData{SessionID: sessionID}})
		return nil
	}
	event.Publish(event.Event{Type: event.CapabilitiesReady, Data: event.CapabilitiesReadyData{SessionID: sessionID, Capabilities: caps}})
	return caps
}
