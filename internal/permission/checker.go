package permission

import (
	"time"

	"github.com/sessionbroker/broker/internal/correlate"
	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/pkg/types"
)

// Bridge correlates outstanding permission requests with consumer
// replies, denying automatically after Timeout elapses.
type Bridge struct {
	table   *correlate.Table[Response]
	timeout time.Duration
}

// NewBridge creates a Bridge with the given timeout. A zero timeout
// falls back to DefaultTimeout.
func NewBridge(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		table:   correlate.NewTable[Response](),
		timeout: timeout,
	}
}

// Request registers a pending permission check and publishes
// permission:requested, returning a function the caller blocks on to
// get the final Outcome.
func (b *Bridge) Request(sessionID string, req *types.PermissionRequest) func() Outcome {
	key := requestKey(sessionID, req.RequestID)
	wait := b.table.Register(key, b.timeout)

	event.PublishSync(event.Event{
		Type: event.PermissionRequested,
		Data: event.PermissionRequestedData{SessionID: sessionID, Request: req},
	})

	return func() Outcome {
		resp, delivered := wait()
		if !delivered {
			event.Publish(event.Event{
				Type: event.PermissionCancelled,
				Data: event.PermissionCancelledData{SessionID: sessionID, RequestID: req.RequestID, Reason: "timeout"},
			})
			return Outcome{Decision: DecisionDeny, DecisionReason: "timed out waiting for a decision"}
		}

		if resp.Decision == DecisionCancelled {
			return Outcome{Decision: DecisionDeny, DecisionReason: "session closed"}
		}

		event.Publish(event.Event{
			Type: event.PermissionResolved,
			Data: event.PermissionResolvedData{SessionID: sessionID, RequestID: req.RequestID, Decision: string(resp.Decision)},
		})
		if resp.Decision == DecisionAllow {
			return Outcome{Decision: DecisionAllow}
		}
		return Outcome{Decision: DecisionDeny, DecisionReason: "denied by consumer"}
	}
}

// Resolve delivers a consumer's decision for a pending request. Returns
// false if the request already timed out, was cancelled, or never
// existed.
func (b *Bridge) Resolve(sessionID string, resp Response) bool {
	return b.table.Resolve(requestKey(sessionID, resp.RequestID), resp)
}

// CancelSession cancels every permission request outstanding for a
// session — called when the session closes with requests still
// pending. Each pending wait resolves at once to a deny Outcome with
// reason "session closed" instead of waiting out the timeout, and
// permission:cancelled is published for it.
func (b *Bridge) CancelSession(sessionID string, requestIDs []string) {
	for _, id := range requestIDs {
		if b.table.Resolve(requestKey(sessionID, id), Response{RequestID: id, Decision: DecisionCancelled}) {
			event.Publish(event.Event{
				Type: event.PermissionCancelled,
				Data: event.PermissionCancelledData{SessionID: sessionID, RequestID: id, Reason: "session_closed"},
			})
		}
	}
}

// Pending reports how many permission requests are currently awaiting a
// decision, across all sessions.
func (b *Bridge) Pending() int {
	return b.table.Pending()
}
