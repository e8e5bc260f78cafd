// Package permission implements the broker's Permission Bridge: it
// correlates a backend's tool-permission check with a consumer's
// allow/deny reply, automatically denying after a timeout with no
// decision from a consumer.
//
// # Overview
//
// A backend that wants to run a sensitive tool (writing a file outside
// the session's working directory, running a shell command, fetching a
// URL) emits a permission_request UnifiedMessage instead of acting
// immediately. The runtime hands that request to the Bridge, which:
//
//  1. Registers it under sessionID+requestID and publishes
//     permission:requested so the consumer gateway can broadcast it.
//  2. Blocks the caller (via the returned wait function) until either a
//     consumer replies with Resolve, or DefaultTimeout elapses.
//  3. Publishes permission:resolved or permission:cancelled depending
//     on the outcome, and returns an Outcome the runtime translates
//     back into the backend's native permission-response format.
//
// # Basic Usage
//
//	bridge := permission.NewBridge(permission.DefaultTimeout)
//	wait := bridge.Request(sessionID, req)
//	outcome := wait() // blocks
//	if !outcome.Allowed() {
//		// deny the tool call, citing outcome.DecisionReason
//	}
//
// A consumer's reply arrives on a different goroutine entirely (the
// consumer gateway's message handler):
//
//	bridge.Resolve(sessionID, permission.Response{
//		RequestID: req.RequestID,
//		Decision:  permission.DecisionAllow,
//	})
//
// # Session Close
//
// When a session closes with requests still outstanding, the runtime
// calls CancelSession so each pending wait resolves immediately to
// DecisionDeny with reason "session closed" rather than blocking for
// the full timeout.
//
// # Path Matching
//
// MatchBlockedPath and FirstMatchingPattern support the blocked_path /
// suggestions fields a backend may attach to a permission_request,
// using doublestar glob patterns (e.g. "**/*.env", "src/**/*.go").
//
// # Thread Safety
//
// Bridge is safe for concurrent use across sessions; the underlying
// correlate.Table handles its own locking.
package permission
