package protocol

import "github.com/sessionbroker/broker/pkg/types"

// Inbound frame type tags (consumer -> broker, spec §4.4).
const (
	InUserMessage          = "user_message"
	InPermissionResponse   = "permission_response"
	InInterrupt            = "interrupt"
	InSetModel             = "set_model"
	InSetPermissionMode    = "set_permission_mode"
	InSlashCommand         = "slash_command"
	InSetAdapter           = "set_adapter"
	InQueueMessage         = "queue_message"
	InUpdateQueuedMessage  = "update_queued_message"
	InCancelQueuedMessage  = "cancel_queued_message"
)

// ParticipantOnlyTypes is the set of inbound frame types an observer
// role may never send (spec §4.4: authorize(identity, type)).
var ParticipantOnlyTypes = map[string]bool{
	InUserMessage:         true,
	InPermissionResponse:  true,
	InInterrupt:           true,
	InSetModel:            true,
	InSetPermissionMode:   true,
	InSlashCommand:        true,
	InSetAdapter:          true,
	InQueueMessage:        true,
	InUpdateQueuedMessage: true,
	InCancelQueuedMessage: true,
}

// Envelope is decoded first to read the frame's type tag before
// unmarshaling the concrete shape.
type Envelope struct {
	Type string `json:"type"`
}

type InUserMessagePayload struct {
	Type    string               `json:"type"`
	Content string               `json:"content"`
	Images  []types.ContentImage `json:"images,omitempty"`
}

type InPermissionResponsePayload struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

type InInterruptPayload struct {
	Type string `json:"type"`
}

type InSetModelPayload struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type InSetPermissionModePayload struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type InSlashCommandPayload struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Args    string `json:"args,omitempty"`
}

type InQueueMessagePayload struct {
	Type    string               `json:"type"`
	Content string               `json:"content"`
	Images  []types.ContentImage `json:"images,omitempty"`
}

type InUpdateQueuedMessagePayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type InCancelQueuedMessagePayload struct {
	Type string `json:"type"`
}
