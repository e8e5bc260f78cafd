package gemini

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/pkg/types"
)

// wireEvent mirrors one line of gemini's `--output-format json-stream`
// protocol: a flatter shape than claude's, with a single "type" tag
// and a content/text/tool trio rather than nested content blocks.
type wireEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	ToolUseID string `json:"toolCallId,omitempty"`

	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`

	SessionID string   `json:"sessionId,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

func fromWire(line []byte) *types.UnifiedMessage {
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	base := &types.UnifiedMessage{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
	}

	switch ev.Type {
	case "session_start":
		base.Type = types.TypeSessionInit
		base.Metadata = map[string]any{
			"backend_session_id": ev.SessionID,
			"cwd":                ev.Cwd,
			"model":              ev.Model,
			"tools":              ev.Tools,
		}
	case "text":
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
		base.Content = []types.UnifiedContent{types.ContentToolResult{ToolUseID: ev.ToolUseID, Content: ev.Output, IsError: ev.Error != ""}}
	case "permission_request":
		base.Type = types.TypePermissionRequest
		base.Metadata = map[string]any{"tool_name": ev.ToolName, "input": ev.Input, "tool_use_id": ev.ToolUseID}
	case "turn_complete":
		base.Type = types.TypeResult
		base.Content = []types.UnifiedContent{types.ContentText{Text: ev.Text}}
	default:
		return nil
	}
	return base
}

func toWire(msg *types.UnifiedMessage) any {
	switch msg.Type {
	case types.TypeUserMessage:
		return map[string]any{"type": "user_text", "text": msg.Text()}
	case types.TypePermissionResponse:
		return map[string]any{
			"type":      "permission_response",
			"requestId": msg.MetaString("request_id"),
			"decision":  msg.MetaString("behavior"),
		}
	case types.TypeInterrupt:
		return map[string]any{"type": "interrupt"}
	default:
		return map[string]any{"type": string(msg.Type)}
	}
}
