// Package wire defines the line-delimited JSON protocol spoken between a
// remote host client and the hostwire agent.
//
// Every frame is one UTF-8 JSON value followed by a single '\n'. The
// control plane is strictly request/response: a REQUEST is answered by
// exactly one RESPONSE or ERROR. A RESPONSE with Body set is followed by
// FRAME messages carrying the same ID, the last of which holds the exit
// status.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeRequest carries a runnable from client to agent
	MessageTypeRequest MessageType = "REQUEST"
	// MessageTypeResponse carries the result value of a request
	MessageTypeResponse MessageType = "RESPONSE"
	// MessageTypeFrame carries one frame of a streamed response body
	MessageTypeFrame MessageType = "FRAME"
	// MessageTypeError reports that the agent could not run a request
	MessageTypeError MessageType = "ERROR"
	// MessageTypeCancel asks the agent to abort the in-flight stream
	MessageTypeCancel MessageType = "CANCEL"
)

// Message is the envelope for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Body      bool            `json:"body,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of an ERROR message.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeFrame,
		MessageTypeError, MessageTypeCancel:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks the envelope.
func (m *Message) Validate() error {
	if err := m.Type.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	return nil
}

// ParseData decodes the message payload into target.
func (m *Message) ParseData(target any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no data", m.ID)
	}
	if err := json.Unmarshal(m.Data, target); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", m.Type, err)
	}
	return nil
}
