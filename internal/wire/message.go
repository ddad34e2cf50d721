package wire

import (
	"encoding/json"
	"fmt"
)

// Message types carried over the WebSocket connection.
const (
	TypeStatus     = "status"
	TypeCommand    = "command"
	TypeAccept     = "accept"
	TypeScreenshot = "screenshot"
)

// Status severities.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Fixed status texts. Clients match on these to drive their progress view,
// so they are part of the protocol surface.
const (
	MsgOpeningTarget   = "Opening Cursor..."
	MsgOpeningComposer = "Opening composer..."
	MsgTyping          = "Typing message..."
	MsgExecuted        = "Command executed successfully"
	MsgResuming        = "Command already executed, resuming updates"
	MsgInProgress      = "Command in progress"
	MsgAccepted        = "Response accepted"
	MsgBusy            = "Another prompt is currently being processed"
)

// Status is a server→client text frame reporting automation progress.
type Status struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	PromptID int64  `json:"promptId,omitempty"`
}

// Command is a client→server request to drive the automation session.
type Command struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsNewPrompt bool   `json:"isNewPrompt"`
	PromptID    int64  `json:"promptId"`
}

// Accept is a client→server request to commit the result and end the session.
type Accept struct {
	Type string `json:"type"`
}

// Inbound is the decoded form of a client text frame. Only the fields
// relevant to the declared Type are meaningful.
type Inbound struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsNewPrompt bool   `json:"isNewPrompt"`
	PromptID    int64  `json:"promptId"`
}

// ParseInbound decodes a raw client text frame. A JSON error is reported as
// ErrFrameDecode; callers must treat it as non-fatal and answer with a status
// frame instead of closing the connection.
func ParseInbound(raw []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrFrameDecode, err)
	}
	return &msg, nil
}

// EncodeStatus marshals a status frame ready to write as a text message.
func EncodeStatus(severity, message string, promptID int64) []byte {
	data, _ := json.Marshal(Status{
		Type:     TypeStatus,
		Status:   severity,
		Message:  message,
		PromptID: promptID,
	})
	return data
}

// DecodeStatus parses a server status frame, used by the client side.
func DecodeStatus(raw []byte) (*Status, error) {
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrFrameDecode, err)
	}
	if st.Type != TypeStatus {
		return nil, fmt.Errorf("%w: unexpected type %q", ErrFrameDecode, st.Type)
	}
	return &st, nil
}

// EncodeCommand marshals a command frame, used by the client side.
func EncodeCommand(message string, isNewPrompt bool, promptID int64) []byte {
	data, _ := json.Marshal(Command{
		Type:        TypeCommand,
		Message:     message,
		IsNewPrompt: isNewPrompt,
		PromptID:    promptID,
	})
	return data
}

// EncodeAccept marshals an accept frame, used by the client side.
func EncodeAccept() []byte {
	data, _ := json.Marshal(Accept{Type: TypeAccept})
	return data
}
