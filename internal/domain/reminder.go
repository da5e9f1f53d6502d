package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reminder kinds. The natural-language parsing that produces these records
// happens client-side; the server only schedules and fires them.
const (
	ReminderIn    = "in"    // one-shot, Value is a Go duration string
	ReminderAt    = "at"    // one-shot, Value is an RFC 3339 timestamp
	ReminderEvery = "every" // recurring, Value is a cron expression
)

// Reminder is a scheduled message that is pushed through the normal chat
// send pathway when it fires.
type Reminder struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Value   string `json:"value"`
	Message string `json:"message"`
	// Context is the conversation the reminder fires into. Empty means a
	// fresh conversation is started on each fire.
	Context   string    `json:"context,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewReminder creates an active reminder with a fresh ID.
func NewReminder(kind, value, message, conversationID string) *Reminder {
	return &Reminder{
		ID:        uuid.New().String(),
		Kind:      kind,
		Value:     value,
		Message:   message,
		Context:   conversationID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}
