// api/schemas/messages.go
package schemas

import (
	"encoding/json"
	"time"
)

// MessageRole distinguishes a user-issued task from an agent-produced step in
// the projected message stream.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleAgent MessageRole = "agent"
)

// Message is one externally consumable projection event. The presentation
// layer renders these; the orchestration core only produces them. Payload
// carries the serialized observation or extraction blob when the step had
// one, and is parsed defensively (parse-or-skip) by consumers.
type Message struct {
	ID         string          `json:"id"`
	Role       MessageRole     `json:"role"`
	Text       string          `json:"text"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Tool       Tool            `json:"tool,omitempty"`
	StepNumber int             `json:"stepNumber,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Final      bool            `json:"final,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
