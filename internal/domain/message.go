// Package domain contains core domain types for the goal chat client.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks a turn composed by the user.
	SenderUser Sender = "user"
	// SenderAssistant marks a turn generated by the server-hosted assistant.
	// The wire value is "ai".
	SenderAssistant Sender = "ai"
)

// Message is a single entry of a chat log.
// Server-assigned IDs are positive and monotonic per chat. Client-synthesized
// messages (optimistic user turns, rendered failures) carry negative IDs.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Body      string    `json:"content"`
	Sender    Sender    `json:"sender"`
	CreatedAt Timestamp `json:"created_at"`
}

// IsAssistant reports whether the message was authored by the assistant.
func (m Message) IsAssistant() bool {
	return m.Sender == SenderAssistant
}

// IsLocal reports whether the message was synthesized on the client.
func (m Message) IsLocal() bool {
	return m.ID <= 0
}

// wireMessage mirrors Message but keeps content raw, since the server has
// been observed to return error objects in place of a string body.
type wireMessage struct {
	ID        int64           `json:"id"`
	ChatID    int64           `json:"chat_id"`
	Content   json.RawMessage `json:"content"`
	Sender    Sender          `json:"sender"`
	CreatedAt Timestamp       `json:"created_at"`
	Legacy    Timestamp       `json:"timestamp"`
}

// UnmarshalJSON decodes a server message row.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	m.ID = w.ID
	m.ChatID = w.ChatID
	m.Sender = w.Sender
	m.CreatedAt = w.CreatedAt
	if m.CreatedAt.IsZero() {
		m.CreatedAt = w.Legacy
	}
	m.Body = contentString(w.Content)
	return nil
}

func contentString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}
	pretty, _ := json.MarshalIndent(obj, "", "  ")
	summary := string(pretty)
	for _, key := range []string{"detail", "message", "error"} {
		if v, ok := obj[key].(string); ok && v != "" {
			summary = v
			break
		}
	}
	return fmt.Sprintf("❌ Error object received (Debug Mode):\n\n%s\n\nFull object:\n%s", summary, pretty)
}

// Chat is the server-side conversation bound to a goal.
type Chat struct {
	ID        int64     `json:"id"`
	GoalID    int64     `json:"goal_id"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at,omitempty"`
}

// NewLocalMessage builds a client-synthesized message.
func NewLocalMessage(id int64, sender Sender, body string) Message {
	return Message{
		ID:        id,
		Body:      body,
		Sender:    sender,
		CreatedAt: Timestamp{Time: time.Now().UTC()},
	}
}
