// Package reminder schedules one-shot and recurring reminders that are
// delivered into conversations as ordinary chat exchanges.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avdeyev/gembridge/internal/bridge"
	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/notify"
	"github.com/avdeyev/gembridge/internal/store"
)

// OriginReminder marks messages produced by reminder delivery.
const OriginReminder = "reminder"

const fireTimeout = 2 * time.Minute

// Sender delivers a reminder message into a conversation. *bridge.Service
// satisfies it.
type Sender interface {
	Send(ctx context.Context, conversationID, message, origin string) (bridge.SendResult, error)
}

// Publisher pushes reminder events to connected clients. *notify.Hub
// satisfies it.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Scheduler owns all reminder timers. One-shot reminders ("in", "at") run on
// time.AfterFunc; recurring ones ("every") run on a cron schedule.
type Scheduler struct {
	repo   store.Repository
	sender Sender
	pub    Publisher
	cron   *cron.Cron

	mu      sync.Mutex
	timers  map[string]*time.Timer
	entries map[string]cron.EntryID

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a reminder scheduler. Start must be called before it
// fires anything.
func NewScheduler(repo store.Repository, sender Sender, pub Publisher) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:    repo,
		sender:  sender,
		pub:     pub,
		cron:    cron.New(),
		timers:  make(map[string]*time.Timer),
		entries: make(map[string]cron.EntryID),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Validate checks a reminder specification without scheduling it.
func Validate(kind, value string) error {
	switch kind {
	case domain.ReminderIn:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive, got %q", value)
		}
	case domain.ReminderAt:
		if _, err := time.Parse(time.RFC3339, value); err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", value, err)
		}
	case domain.ReminderEvery:
		if _, err := cron.ParseStandard(value); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", value, err)
		}
	default:
		return fmt.Errorf("unknown reminder kind %q", kind)
	}
	return nil
}

// Start loads active reminders from the store, schedules them, and starts
// the cron runner. One-shots whose time already passed fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	reminders, err := s.repo.ListReminders(ctx, true)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	for _, rem := range reminders {
		if err := s.Schedule(rem); err != nil {
			slog.Warn("Skipping unschedulable reminder", "id", rem.ID, "kind", rem.Kind, "value", rem.Value, "error", err)
		}
	}
	s.cron.Start()
	slog.Info("Reminder scheduler started", "active", len(reminders))
	return nil
}

// Schedule registers timers for a single reminder.
func (s *Scheduler) Schedule(rem *domain.Reminder) error {
	if err := Validate(rem.Kind, rem.Value); err != nil {
		return err
	}

	switch rem.Kind {
	case domain.ReminderIn:
		d, _ := time.ParseDuration(rem.Value)
		s.scheduleOneShot(rem, time.Until(rem.CreatedAt.Add(d)))
	case domain.ReminderAt:
		at, _ := time.Parse(time.RFC3339, rem.Value)
		s.scheduleOneShot(rem, time.Until(at))
	case domain.ReminderEvery:
		r := rem
		id, err := s.cron.AddFunc(rem.Value, func() { s.fire(r, false) })
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.entries[rem.ID] = id
		s.mu.Unlock()
	}
	return nil
}

func (s *Scheduler) scheduleOneShot(rem *domain.Reminder, delay time.Duration) {
	if delay < 0 {
		// Missed while the server was down; deliver late rather than never.
		delay = 0
	}
	r := rem
	timer := time.AfterFunc(delay, func() { s.fire(r, true) })
	s.mu.Lock()
	s.timers[rem.ID] = timer
	s.mu.Unlock()
}

// Remove unschedules a reminder (delete path).
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// Stop halts the cron runner and cancels pending one-shots.
func (s *Scheduler) Stop() {
	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// fire delivers one reminder. The message goes through the normal exchange
// path with origin "reminder", so credential gating and persistence apply
// exactly as they do for user sends.
func (s *Scheduler) fire(rem *domain.Reminder, oneShot bool) {
	ctx, cancel := context.WithTimeout(s.baseCtx, fireTimeout)
	defer cancel()

	slog.Info("Reminder firing", "id", rem.ID, "kind", rem.Kind, "conversation_id", rem.Context)

	res, err := s.sender.Send(ctx, rem.Context, rem.Message, OriginReminder)
	if err != nil {
		slog.Warn("Reminder delivery failed", "id", rem.ID, "error", err)
	} else if s.pub != nil {
		s.pub.Publish(notify.EventReminderFired, map[string]string{
			"reminder_id":     rem.ID,
			"conversation_id": res.ConversationID,
			"message":         rem.Message,
		})
	}

	if oneShot {
		s.mu.Lock()
		delete(s.timers, rem.ID)
		s.mu.Unlock()
		if err := s.repo.DeactivateReminder(context.WithoutCancel(ctx), rem.ID); err != nil {
			slog.Warn("Failed to deactivate fired reminder", "id", rem.ID, "error", err)
		}
	}
}
