package claude

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/pkg/types"
)

// wireEvent mirrors one NDJSON line of claude's `--output-format
// stream-json` protocol. Field set follows the CLI's own system/
// assistant/result/control_request/stream_event vocabulary.
type wireEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
	NumTurns  int             `json:"num_turns,omitempty"`
	CostUSD   float64         `json:"total_cost_usd,omitempty"`

	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`

	SlashCommands []string `json:"slash_commands,omitempty"`
	Skills        []string `json:"skills,omitempty"`
	Tools         []string `json:"tools,omitempty"`
	Cwd           string   `json:"cwd,omitempty"`
	Model         string   `json:"model,omitempty"`

	Status string          `json:"status,omitempty"`
	Event  json.RawMessage `json:"event,omitempty"`
}

type wireContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type wireMessage struct {
	ID      string              `json:"id,omitempty"`
	Content []wireContentBlock  `json:"content"`
}

type permissionRequest struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input"`
	ToolUseID string        `json:"tool_use_id"`
}

func nowMs() int64 { return time.Now().UnixMilli() }

func newULID() string { return ulid.Make().String() }

// fromWire translates one NDJSON line into a UnifiedMessage, or
// returns nil when the line carries no broker-visible signal.
func fromWire(line []byte) *types.UnifiedMessage {
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "system":
		if ev.Subtype != "init" {
			return nil
		}
		return &types.UnifiedMessage{
			ID: newULID(), Timestamp: nowMs(), Type: types.TypeSessionInit,
			Metadata: map[string]any{
				"backend_session_id": ev.SessionID,
				"cwd":                ev.Cwd,
				"model":              ev.Model,
				"tools":              ev.Tools,
				"slash_commands":     ev.SlashCommands,
				"skills":             ev.Skills,
			},
		}
	case "assistant":
		var wm wireMessage
		if len(ev.Message) > 0 {
			_ = json.Unmarshal(ev.Message, &wm)
		}
		content := make([]types.UnifiedContent, 0, len(wm.Content))
		for _, b := range wm.Content {
			switch b.Type {
			case "text":
				content = append(content, types.ContentText{Text: b.Text})
			case "tool_use":
				var input map[string]any
				if len(b.Input) > 0 {
					_ = json.Unmarshal(b.Input, &input)
				}
				content = append(content, types.ContentToolUse{ID: b.ID, Name: b.Name, Input: input})
			case "tool_result":
				content = append(content, types.ContentToolResult{ToolUseID: b.ToolUseID, Content: b.Content})
			}
		}
		return &types.UnifiedMessage{
			ID: newULID(), Timestamp: nowMs(), Type: types.TypeAssistant,
			Role: types.RoleAssistant, Content: content,
			Metadata: map[string]any{"message_id": wm.ID},
		}
	case "result":
		return &types.UnifiedMessage{
			ID: newULID(), Timestamp: nowMs(), Type: types.TypeResult,
			Content: []types.UnifiedContent{types.ContentText{Text: ev.Result}},
			Metadata: map[string]any{
				"is_error":  ev.IsError,
				"errors":    ev.Errors,
				"num_turns": ev.NumTurns,
				"cost_usd":  ev.CostUSD,
			},
		}
	case "control_request":
		var req permissionRequest
		if len(ev.Request) > 0 {
			_ = json.Unmarshal(ev.Request, &req)
		}
		return &types.UnifiedMessage{
			ID: newULID(), Timestamp: nowMs(), Type: types.TypePermissionRequest,
			Metadata: map[string]any{
				"subtype":     "can_use_tool",
				"request_id":  ev.RequestID,
				"tool_name":   req.ToolName,
				"input":       req.Input,
				"tool_use_id": req.ToolUseID,
			},
		}
	case "stream_event":
		return &types.UnifiedMessage{
			ID: newULID(), Timestamp: nowMs(), Type: types.TypeStreamEvent,
			Metadata: map[string]any{"event": json.RawMessage(ev.Event)},
		}
	default:
		return nil
	}
}

// toWire translates an outbound UnifiedMessage into the stdin-JSON
// shape claude's CLI expects on the delivered socket.
func toWire(msg *types.UnifiedMessage) any {
	switch msg.Type {
	case types.TypeUserMessage:
		return map[string]any{
			"type":    "user",
			"message": map[string]any{"role": "user", "content": contentToBlocks(msg.Content)},
		}
	case types.TypePermissionResponse:
		return map[string]any{
			"type":       "control_response",
			"request_id": msg.MetaString("request_id"),
			"response": map[string]any{
				"behavior":      msg.MetaString("behavior"),
				"updated_input": msg.MetaMap("updated_input"),
				"message":       msg.MetaString("message"),
			},
		}
	case types.TypeControlRequest:
		return map[string]any{
			"type":       "control_request",
			"subtype":    msg.MetaString("subtype"),
			"request_id": msg.MetaString("request_id"),
		}
	case types.TypeInterrupt:
		return map[string]any{"type": "control_request", "subtype": "interrupt"}
	default:
		return map[string]any{"type": string(msg.Type)}
	}
}

func contentToBlocks(content []types.UnifiedContent) []map[string]any {
	out := make([]map[string]any, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case types.ContentText:
			out = append(out, map[string]any{"type": "text", "text": v.Text})
		case types.ContentImage:
			out = append(out, map[string]any{"type": "image", "source": map[string]any{"media_type": v.MediaType, "data": v.Data}})
		}
	}
	return out
}
