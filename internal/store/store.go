// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/avdeyev/gembridge/internal/domain"
)

// Repository defines the interface for persisting the encrypted credential,
// conversations, and reminders.
type Repository interface {
	// GetCredential returns the single stored credential record, or nil if
	// none exists.
	GetCredential(ctx context.Context) (*domain.CredentialRecord, error)

	// SaveCredential replaces the stored credential record.
	SaveCredential(ctx context.Context, rec *domain.CredentialRecord) error

	// UpdateCredentialStatus updates the lifecycle status and, when non-nil,
	// the last-validated timestamp.
	UpdateCredentialStatus(ctx context.Context, status string, validatedAt *time.Time) error

	// DeleteCredential destroys the stored credential record.
	DeleteCredential(ctx context.Context) error

	// ListConversations returns all conversations, newest first, without
	// their messages.
	ListConversations(ctx context.Context) ([]*domain.Conversation, error)

	// GetConversation returns one conversation with its ordered messages,
	// or nil if it does not exist.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// CreateConversation stores a new conversation.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage appends a message to a conversation and bumps its
	// updated_at timestamp.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error

	// ListReminders returns reminders, optionally only active ones.
	ListReminders(ctx context.Context, activeOnly bool) ([]*domain.Reminder, error)

	// CreateReminder stores a new reminder.
	CreateReminder(ctx context.Context, rem *domain.Reminder) error

	// DeactivateReminder marks a fired one-shot reminder inactive.
	DeactivateReminder(ctx context.Context, id string) error

	// DeleteReminder removes a reminder.
	DeleteReminder(ctx context.Context, id string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
