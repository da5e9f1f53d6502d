// Package domain contains core domain types for the gembridge application.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message in the local vocabulary. Only user
// and assistant roles are ever sent upstream; system messages are local-only
// annotations.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// Generating marks an assistant message still being streamed to the
	// client. Transport-only; never persisted.
	Generating bool `json:"generating,omitempty"`
	// Origin tags how the message entered the conversation ("user",
	// "reminder"). Empty means a plain user interaction.
	Origin string `json:"origin,omitempty"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(role Role, content, origin string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
		Origin:    origin,
	}
}

// Conversation is an ordered, append-only sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation titled after the first
// message that will be sent into it.
func NewConversation(firstMessage string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     DeriveTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveTitle produces a short display title from message text.
func DeriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if title == "" {
		return "New conversation"
	}
	const maxTitle = 48
	if len(title) > maxTitle {
		title = strings.TrimSpace(title[:maxTitle]) + "…"
	}
	return title
}

// HistoryPayload returns the messages that may be framed as "history so far"
// for a new upstream request. Mid-generation assistant messages are stripped,
// and a trailing unanswered user message is removed because the caller is
// about to resubmit it as the new turn.
func (c *Conversation) HistoryPayload() []Message {
	history := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role == RoleAssistant && m.Generating {
			continue
		}
		history = append(history, m)
	}
	if n := len(history); n > 0 && history[n-1].Role == RoleUser {
		history = history[:n-1]
	}
	return history
}
