package message

import "time"

// Ack is the server's reply to a message transmission. It echoes the
// client's temp id so the queue can match it to the pending entry.
type Ack struct {
	ClientTempID string    `json:"client_temp_id"`
	MessageID    string    `json:"message_id,omitempty"` // server-assigned id
	OK           bool      `json:"ok"`
	Error        string    `json:"error,omitempty"`
	Retryable    bool      `json:"retryable,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// SendError is a server-pushed failure notice for a previous transmission,
// delivered out of band from the per-emit acknowledgment.
type SendError struct {
	ClientTempID string `json:"client_temp_id"`
	Error        string `json:"error"`
	Retryable    bool   `json:"retryable"`
}

// Inbound is a message received from another participant
type Inbound struct {
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	SentAt         time.Time    `json:"sent_at"`
}

// Typing is a typing indicator for a conversation
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

// Presence reports a user going online or offline
type Presence struct {
	UserID string    `json:"user_id"`
	Online bool      `json:"online"`
	At     time.Time `json:"at,omitempty"`
}
