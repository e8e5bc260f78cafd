package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sessionbroker/broker/internal/logging"
	"github.com/sessionbroker/broker/internal/manager"
	"github.com/sessionbroker/broker/internal/protocol"
	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// Gateway is the Consumer Gateway (spec §4.4): it upgrades consumer
// WebSocket connections, authenticates them, replays session state in
// the spec's fixed order, and runs every inbound frame through a
// size/parse/authorize/rate-limit pipeline before handing it to the
// session's Runtime.
type Gateway struct {
	mgr            *manager.Manager
	cfg            *types.Config
	authenticator  Authenticator
	originPatterns []string
	log            zerolog.Logger

	anonCounter int64
}

// New builds a Gateway wired to mgr. authenticator may be nil, in which
// case every consumer is synthesized an anonymous participant identity.
func New(cfg *types.Config, mgr *manager.Manager, authenticator Authenticator) *Gateway {
	return &Gateway{
		mgr:            mgr,
		cfg:            cfg,
		authenticator:  authenticator,
		originPatterns: []string{"*"},
		log:            logging.Component("gateway"),
	}
}

// ServeConsumer upgrades r into a WebSocket and attaches it to the
// session named by the "sessionID" chi URL param.
func (g *Gateway) ServeConsumer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	rt, ok := g.mgr.Runtime(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.originPatterns})
	if err != nil {
		g.log.Debug().Err(err).Str("sessionId", sessionID).Msg("websocket accept failed")
		return
	}

	connID := ulid.Make().String()
	sock := NewSocket(conn, connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// authenticateAsync also races r.Context(): an abrupt client
	// disconnect during the upgrade surfaces there before any consumer
	// is registered to read from the socket (spec §4.4 "a socket-close
	// during the race cancels and resolves null").
	identity := g.authenticateAsync(ctx, r, ctx.Done())
	if identity == nil {
		_ = sock.Close(int(websocket.StatusPolicyViolation), "authentication failed")
		return
	}

	limiter := rate.NewLimiter(rate.Limit(g.cfg.ConsumerMessageRateLimit.TokensPerSecond), g.cfg.ConsumerMessageRateLimit.BurstSize)
	handle := &session.ConsumerHandle{ConnID: connID, Socket: sock, Identity: *identity, RateLimiter: limiter}

	rt.AddConsumer(handle)
	defer rt.RemoveConsumer(connID)

	g.replay(rt, handle)
	g.readLoop(ctx, rt, handle, sock)
}

// replay sends the new socket the fixed replay-on-join sequence (spec
// §4.4): identity, session_init, optional message_history, optional
// capabilities_ready, pending permission_requests (participants only),
// current message_queued, presence_update, then cli_connected or
// cli_disconnected.
func (g *Gateway) replay(rt *session.Runtime, handle *session.ConsumerHandle) {
	s := rt.Session()
	snap := s.Snapshot()

	send := func(frame any) {
		if err := handle.Socket.Send(frame); err != nil {
			g.log.Debug().Err(err).Str("connId", handle.ConnID).Msg("replay send failed")
		}
	}

	send(protocol.NewIdentity(handle.Identity))
	send(protocol.SessionInit{
		Type:            protocol.FrameSessionInit,
		Session:         &protocol.SessionDescriptor{SessionID: s.ID, State: snap.State},
		ProtocolVersion: protocol.Version,
	})

	if history := s.MessageHistorySnapshot(); len(history) > 0 {
		send(protocol.MessageHistory{Type: protocol.FrameMessageHistory, Messages: history})
	}

	if snap.State != nil && snap.State.Capabilities != nil {
		caps := snap.State.Capabilities
		send(protocol.CapabilitiesReady{
			Type:     protocol.FrameCapabilitiesReady,
			Commands: caps.Commands,
			Models:   caps.Models,
			Account:  caps.Account,
			Skills:   snap.State.Skills,
		})
	}

	if handle.Identity.Role == types.RoleParticipant {
		for _, req := range s.PendingPermissionsSnapshot() {
			send(protocol.PermissionRequestFrame{Type: protocol.FramePermissionRequest, Request: req})
		}
	}

	if qm := s.QueuedMessageSnapshot(); qm != nil {
		send(protocol.MessageQueued{Type: protocol.FrameMessageQueued, Content: qm.Content})
	}

	identities := make([]types.ConsumerIdentity, 0, len(s.ConsumersSnapshot()))
	for _, h := range s.ConsumersSnapshot() {
		identities = append(identities, h.Identity)
	}
	send(protocol.PresenceUpdate{Type: protocol.FramePresenceUpdate, Consumers: identities})

	if s.HasBackend() {
		send(protocol.CLIConnected{Type: protocol.FrameCLIConnected})
		return
	}
	send(protocol.CLIDisconnected{Type: protocol.FrameCLIDisconnected})
	rt.HandleSignal("exited")
}

// readLoop implements the per-message pipeline (spec §4.4): size limit
// is enforced by the socket's read limit; here we parse, authorize,
// rate-limit, and dispatch, logging and dropping on any failure short
// of the socket itself erroring.
func (g *Gateway) readLoop(ctx context.Context, rt *session.Runtime, handle *session.ConsumerHandle, sock *Socket) {
	for {
		raw, err := sock.Read(ctx)
		if err != nil {
			if CloseStatus(err) == -1 {
				g.log.Debug().Err(err).Str("connId", handle.ConnID).Msg("consumer read error")
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			g.log.Debug().Err(err).Str("connId", handle.ConnID).Msg("dropping unparsable consumer frame")
			continue
		}

		if handle.Identity.Role == types.RoleObserver && protocol.ParticipantOnlyTypes[env.Type] {
			_ = sock.Send(protocol.NewError("Observers cannot send " + env.Type))
			continue
		}

		if !handle.RateLimiter.Allow() {
			_ = sock.Send(protocol.NewError("rate limit exceeded"))
			continue
		}

		if env.Type == protocol.InSetAdapter {
			// Spec §6: set_adapter always errors — adapter binding is
			// fixed per session, not a runtime switch.
			_ = sock.Send(protocol.NewError("adapter is session-scoped and cannot be changed"))
			continue
		}

		if err := rt.HandleInboundCommand(ctx, handle, raw); err != nil {
			g.log.Debug().Err(err).Str("connId", handle.ConnID).Msg("dropping consumer frame: dispatch failed")
		}
	}
}
