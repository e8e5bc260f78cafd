package command

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/pkg/types"
)

// AdapterExecutor is the adapter-specific slash command channel (spec
// §4.6 tier 1) — implemented by a BackendAdapter that exposes native
// command execution (e.g. a JSON-RPC command method). Claimed commands
// short-circuit the emulated and passthrough tiers.
type AdapterExecutor interface {
	ExecuteSlashCommand(ctx context.Context, name, args string) (content string, claimed bool, err error)
}

// Result is a synchronously resolved slash command outcome (tiers 1
// and 2).
type Result struct {
	Content string
	Source  Source
}

// Resolve runs the three-tier resolution described in spec §4.6.
// It returns exactly one of: a synchronous Result, a passthrough
// descriptor to enqueue (caller must then send the raw command text to
// the backend as a user_message), or an error.
func Resolve(
	ctx context.Context,
	registry *Registry,
	cmdName, args string,
	adapter AdapterExecutor,
	ops Ops,
	supportsPassthrough bool,
) (*Result, *types.PassthroughDescriptor, error) {
	// Tier 1: adapter-specific executor.
	if adapter != nil {
		content, claimed, err := adapter.ExecuteSlashCommand(ctx, cmdName, args)
		if claimed {
			if err != nil {
				return nil, nil, err
			}
			return &Result{Content: content, Source: SourceAdapter}, nil, nil
		}
	}

	// Tier 2: emulated built-in.
	if content, handled, err := ExecuteBuiltin(cmdName, args, ops); handled {
		if err != nil {
			return nil, nil, err
		}
		return &Result{Content: content, Source: SourceEmulated}, nil, nil
	}

	// Tier 3: native passthrough.
	if supportsPassthrough {
		desc := &types.PassthroughDescriptor{
			Command:        RawCommand(cmdName, args),
			SlashRequestID: ulid.Make().String(),
			TraceID:        ulid.Make().String(),
			StartedAtMs:    time.Now().UnixMilli(),
		}
		return nil, desc, nil
	}

	return nil, nil, ErrUnknownCommand
}

// RawCommand reconstructs the literal "/name args" text that tier 3
// sends verbatim to the backend as a user_message.
func RawCommand(name, args string) string {
	if strings.TrimSpace(args) == "" {
		return "/" + name
	}
	return "/" + name + " " + args
}

// ParseCommand splits a raw "/name args" string into its name and
// argument remainder. The leading slash is optional on input.
func ParseCommand(raw string) (name, args string) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "/")
	parts := strings.SplitN(raw, " ", 2)
	name = parts[0]
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}
