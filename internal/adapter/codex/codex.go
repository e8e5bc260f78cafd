// Package codex implements the forward BackendAdapter for an OpenAI
// Codex-compatible backend reachable over HTTP JSON-RPC. Unlike claude,
// codex is dialed by the broker rather than dialing back: Connect opens
// a session with a single POST and a long-lived polling loop drains
// server-sent events into the session's Messages channel.
//
// Grounded on the teacher's hand-rolled MCP HTTPTransport (request/
// response envelope, bump-and-wait correlation by integer id) —
// that file itself reaches for net/http and encoding/json rather than
// a JSON-RPC library, so this adapter follows the same idiom.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessionbroker/broker/internal/session"
	"github.com/sessionbroker/broker/pkg/types"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PollInterval is how often an idle session polls for new events.
const PollInterval = 500 * time.Millisecond

// Adapter is the codex BackendAdapter.
type Adapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	nextID  int64
}

// Config configures the codex adapter.
type Config struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// New creates a codex Adapter.
func New(cfg Config) *Adapter {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client, baseURL: cfg.BaseURL, apiKey: cfg.APIKey}
}

func (a *Adapter) Name() string { return "codex" }

func (a *Adapter) Capabilities() session.Capabilities {
	return session.Capabilities{
		Streaming:     true,
		Permissions:   true,
		SlashCommands: false,
		Availability:  session.AvailabilityRemote,
		Teams:         false,
	}
}

func (a *Adapter) Connect(ctx context.Context, sessionID string, opts session.ConnectOptions) (session.BackendSession, error) {
	baseURL := a.baseURL
	apiKey := a.apiKey
	if opts.AdapterConfig.URL != "" {
		baseURL = opts.AdapterConfig.URL
	}
	if opts.AdapterConfig.APIKey != "" {
		apiKey = opts.AdapterConfig.APIKey
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%w: codex requires a base URL", session.ErrBackendUnavailable)
	}

	cs := &codexSession{
		sessionID: sessionID,
		adapter:   a,
		baseURL:   baseURL,
		apiKey:    apiKey,
		msgs:      make(chan *types.UnifiedMessage, 64),
		done:      make(chan struct{}),
	}

	params := map[string]any{"cwd": opts.Cwd, "model": opts.Model}
	if opts.BackendSessionID != "" {
		params["resume"] = opts.BackendSessionID
	}
	result, err := cs.call(ctx, "session/start", params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrBackendUnavailable, err)
	}
	var started struct {
		SessionID string `json:"sessionId"`
	}
	_ = json.Unmarshal(result, &started)
	cs.backendSessionID = started.SessionID

	go cs.pollLoop(ctx)
	return cs, nil
}

// codexSession implements session.BackendSession over a polled HTTP
// JSON-RPC connection.
type codexSession struct {
	sessionID        string
	backendSessionID string
	adapter          *Adapter
	baseURL          string
	apiKey           string

	msgs      chan *types.UnifiedMessage
	done      chan struct{}
	closeOnce sync.Once
}

func (c *codexSession) SessionID() string { return c.sessionID }

func (c *codexSession) Send(msg *types.UnifiedMessage) error {
	params := map[string]any{
		"sessionId": c.backendSessionID,
		"text":      msg.Text(),
	}
	_, err := c.call(context.Background(), "session/sendMessage", params)
	return err
}

func (c *codexSession) SendRaw(raw string) error {
	var params any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return err
	}
	_, err := c.call(context.Background(), "session/sendRaw", params)
	return err
}

func (c *codexSession) Messages() <-chan *types.UnifiedMessage { return c.msgs }

func (c *codexSession) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_, _ = c.call(context.Background(), "session/stop", map[string]any{"sessionId": c.backendSessionID})
		close(c.msgs)
	})
	return nil
}

// pollLoop repeatedly drains the backend's event queue, translating
// each event into a UnifiedMessage, until Close or ctx ends.
func (c *codexSession) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := c.call(ctx, "session/pullEvents", map[string]any{"sessionId": c.backendSessionID})
			if err != nil {
				continue
			}
			var events []json.RawMessage
			if err := json.Unmarshal(result, &events); err != nil {
				continue
			}
			for _, raw := range events {
				if msg := codexEventToUnified(raw); msg != nil {
					select {
					case c.msgs <- msg:
					case <-c.done:
						return
					}
				}
			}
		}
	}
}

// call performs one JSON-RPC request/response round trip over HTTP.
func (c *codexSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.adapter.nextID, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.adapter.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("codex: HTTP %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("codex: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
