package gateway

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/internal/registry"
	"github.com/sessionbroker/broker/internal/session"
)

// attachPollInterval and attachTimeout bound how long the hub waits to
// observe a dial-back's connectBackend attempt succeed before giving up
// (spec §4.10 step 4: "if ... connectBackend fails, cancelPending and
// close the socket").
const (
	attachPollInterval = 50 * time.Millisecond
	attachTimeout       = manager.ConnectTimeout
)

// TransportHub accepts inverted adapters' dial-back connections (spec
// §4.10): the claude CLI, spawned as a local subprocess, connects back
// in here instead of being dialed out to.
type TransportHub struct {
	mgr            *manager.Manager
	originPatterns []string
}

// NewTransportHub builds a TransportHub wired to mgr.
func NewTransportHub(mgr *manager.Manager) *TransportHub {
	return &TransportHub{mgr: mgr, originPatterns: []string{"*"}}
}

// ServeDialback handles one inverted adapter's dial-back connection for
// the session named by the "sessionID" chi URL param.
func (h *TransportHub) ServeDialback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	entry, err := h.mgr.Entry(sessionID)
	if err != nil || entry.State != registry.StateStarting {
		http.Error(w, "no starting session for this id", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("dial-back accept failed")
		return
	}

	dup := newDialbackSocket(conn)

	adapter, ok := h.mgr.AdapterForSession(sessionID)
	if !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "no adapter configured")
		return
	}
	inv, ok := session.AsInverted(adapter)
	if !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "adapter is not inverted")
		return
	}

	if !inv.DeliverSocket(sessionID, dup) {
		inv.CancelPending(sessionID)
		_ = conn.Close(websocket.StatusPolicyViolation, "delivery rejected")
		return
	}

	if !h.waitForAttach(sessionID) {
		inv.CancelPending(sessionID)
		_ = conn.Close(websocket.StatusInternalError, "backend connect failed")
		return
	}

	// The proxy socket is now owned by the adapter's backend session;
	// hold the handler open for the life of the request so the HTTP
	// server doesn't tear down the upgraded connection underneath it.
	<-r.Context().Done()
}


// waitForAttach polls until sessionID's runtime reports a live backend
// connection or attachTimeout elapses.
func (h *TransportHub) waitForAttach(sessionID string) bool {
	deadline := time.Now().Add(attachTimeout)
	for time.Now().Before(deadline) {
		if rt, ok := h.mgr.Runtime(sessionID); ok && rt.Session().HasBackend() {
			return true
		}
		time.Sleep(attachPollInterval)
	}
	return false
}
