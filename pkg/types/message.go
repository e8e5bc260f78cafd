// Package types provides the core data types shared across the broker:
// the canonical UnifiedMessage envelope, session state, and registry
// records that every adapter, translator, and transport agrees on.
package types

// MessageType tags the kind of a UnifiedMessage.
type MessageType string

const (
	TypeUserMessage         MessageType = "user_message"
	TypeAssistant           MessageType = "assistant"
	TypeResult              MessageType = "result"
	TypeStatusChange        MessageType = "status_change"
	TypeSessionInit         MessageType = "session_init"
	TypeSessionLifecycle    MessageType = "session_lifecycle"
	TypeStreamEvent         MessageType = "stream_event"
	TypePermissionRequest   MessageType = "permission_request"
	TypePermissionResponse  MessageType = "permission_response"
	TypeControlRequest      MessageType = "control_request"
	TypeControlResponse     MessageType = "control_response"
	TypeToolProgress        MessageType = "tool_progress"
	TypeToolUseSummary      MessageType = "tool_use_summary"
	TypeAuthStatus          MessageType = "auth_status"
	TypeConfigurationChange MessageType = "configuration_change"
	TypeInterrupt           MessageType = "interrupt"
	TypeSetModel            MessageType = "set_model"
	TypeSetPermissionMode   MessageType = "set_permission_mode"
	TypeUnknown             MessageType = "unknown"
)

// Role identifies who produced a UnifiedMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// UnifiedMessage is the canonical in-process envelope that crosses every
// internal boundary: adapters translate backend-native frames into it,
// the router reduces session state from it, and the broadcaster fans it
// out to consumers unchanged.
type UnifiedMessage struct {
	ID        string           `json:"id"`
	Timestamp int64            `json:"timestamp"` // epoch ms
	Type      MessageType      `json:"type"`
	Role      Role             `json:"role,omitempty"`
	Content   []UnifiedContent `json:"content"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy safe for independent mutation of
// Metadata and Content slices by callers (translators hand messages to
// multiple consumers of the broadcaster).
func (m *UnifiedMessage) Clone() *UnifiedMessage {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Content != nil {
		clone.Content = make([]UnifiedContent, len(m.Content))
		copy(clone.Content, m.Content)
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Text concatenates every text content block, ignoring non-text
// variants. Used by translators that need a flattened string view
// (title generation, passthrough echo stripping).
func (m *UnifiedMessage) Text() string {
	var out string
	for _, c := range m.Content {
		if t, ok := c.(ContentText); ok {
			out += t.Text
		}
	}
	return out
}

// MetaString reads a string field out of Metadata, returning "" if
// absent or of a different type.
func (m *UnifiedMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool reads a bool field out of Metadata, defaulting to false.
func (m *UnifiedMessage) MetaBool(key string) bool {
	if m.Metadata == nil {
		return false
	}
	v, _ := m.Metadata[key].(bool)
	return v
}

// MetaFloat reads a numeric field out of Metadata, returning 0 if
// absent or of a different type.
func (m *UnifiedMessage) MetaFloat(key string) float64 {
	if m.Metadata == nil {
		return 0
	}
	switch v := m.Metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// MetaInt reads an integer field out of Metadata, returning 0 if
// absent or of a different type.
func (m *UnifiedMessage) MetaInt(key string) int {
	return int(m.MetaFloat(key))
}

// MetaStringSlice reads a []string field out of Metadata, returning nil
// if absent. Tolerates a decoded []any of strings (the shape produced
// by encoding/json unmarshaling into map[string]any).
func (m *UnifiedMessage) MetaStringSlice(key string) []string {
	if m.Metadata == nil {
		return nil
	}
	switch v := m.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// MetaMap reads a map[string]any field out of Metadata, returning nil
// if absent or of a different type.
func (m *UnifiedMessage) MetaMap(key string) map[string]any {
	if m.Metadata == nil {
		return nil
	}
	v, _ := m.Metadata[key].(map[string]any)
	return v
}
