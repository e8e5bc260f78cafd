package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sessionbroker/broker/pkg/types"
)

// Authenticator resolves a consumer's identity from the upgrade
// request. Optional — a Gateway with none configured synthesizes
// anonymous participant identities (spec §4.4).
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*types.ConsumerIdentity, error)
}

// authenticateAsync races an Authenticate call against cfg.AuthTimeoutMs
// and the socket's own closed channel. A failed auth call, an elapsed
// timeout, or a socket closed mid-race all resolve to nil, matching the
// spec's "resolves null" wording.
func (g *Gateway) authenticateAsync(ctx context.Context, r *http.Request, closed <-chan struct{}) *types.ConsumerIdentity {
	if g.authenticator == nil {
		return g.anonymousIdentity()
	}

	result := make(chan *types.ConsumerIdentity, 1)
	go func() {
		identity, err := g.authenticator.Authenticate(ctx, r)
		if err != nil {
			result <- nil
			return
		}
		result <- identity
	}()

	timeout := time.Duration(g.cfg.AuthTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case identity := <-result:
		return identity
	case <-timer.C:
		return nil
	case <-closed:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// anonymousIdentity synthesizes anonymous-{monotonic index} identities
// with the participant role (spec §4.4).
func (g *Gateway) anonymousIdentity() *types.ConsumerIdentity {
	idx := atomic.AddInt64(&g.anonCounter, 1)
	return &types.ConsumerIdentity{
		UserID:      "anonymous-" + strconv.FormatInt(idx, 10),
		DisplayName: "Anonymous",
		Role:        types.RoleParticipant,
	}
}
