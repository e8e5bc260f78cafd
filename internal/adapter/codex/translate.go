package codex

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/pkg/types"
)

// codexEvent mirrors one entry of the array session/pullEvents
// returns: a flat kind/text/payload shape rather than claude's nested
// content-block vocabulary.
type codexEvent struct {
	Kind      string          `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	Output    string          `json:"output,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func codexEventToUnified(raw json.RawMessage) *types.UnifiedMessage {
	var ev codexEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}

	base := &types.UnifiedMessage{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
	}

	switch ev.Kind {
	case "message":
		base.Type = types.TypeAssistant
		base.Role = types.RoleAssistant
		base.Content = []types.UnifiedContent{types.ContentText{Text: ev.Text}}
	case "tool_call":
		base.Type = types.TypeAssistant
		base.Role = types.RoleAssistant
		base.Content = []types.UnifiedContent{types.ContentToolUse{ID: ev.ToolUseID, Name: ev.ToolName, Input: ev.Input}}
	case "tool_result":
		base.Type = types.TypeAssistant
		base.Role = types.RoleTool
		base.Content = []types.UnifiedContent{types.ContentToolResult{ToolUseID: ev.ToolUseID, Content: ev.Output, IsError: ev.IsError}}
	case "permission_request":
		var req map[string]any
		_ = json.Unmarshal(ev.Payload, &req)
		base.Type = types.TypePermissionRequest
		base.Metadata = req
	case "done":
		base.Type = types.TypeResult
		base.Content = []types.UnifiedContent{types.ContentText{Text: ev.Text}}
	default:
		return nil
	}
	return base
}
