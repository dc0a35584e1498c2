// Package message defines the chat data model: outbound messages with their
// delivery lifecycle, and the inbound event payloads the server forwards.
package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vzorr/chat-test-client-sub001/errors"
)

// Status represents the delivery lifecycle state of an outbound message
type Status int

const (
	// StatusPending means the message is queued or awaiting acknowledgment
	StatusPending Status = iota
	// StatusSent means the server acknowledged delivery
	StatusSent
	// StatusFailed means the retry budget was exhausted (terminal)
	StatusFailed
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// NewID generates a client message id. Ids are the deduplication key for a
// logical message: stable across retries, distinct across messages.
func NewID() string {
	return uuid.NewString()
}

// Attachment is an opaque reference to an uploaded file
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Outbound is a message the client wants delivered.
// Exactly one Outbound exists per ClientTempID while it is pending; an id
// that reached StatusSent or terminal StatusFailed is never re-admitted.
type Outbound struct {
	ClientTempID   string       `json:"client_temp_id"`
	ConversationID string       `json:"conversation_id"`
	ReceiverID     string       `json:"receiver_id,omitempty"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	JobID          string       `json:"job_id,omitempty"`

	Status    Status    `json:"status"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Validate checks the message has enough to be transmitted
func (m *Outbound) Validate() error {
	if m == nil {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Outbound", "Validate", "nil message")
	}
	if m.ConversationID == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Outbound", "Validate", "conversation_id required")
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "Outbound", "Validate", "content or attachments required")
	}
	return nil
}
