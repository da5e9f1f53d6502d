// Package credential tracks the lifecycle of the pasted session-cookie
// credential: its decrypted in-memory value, its status, and the staleness
// judgement that gates outgoing requests.
package credential

import (
	"errors"
	"sync"
	"time"
)

// Status enumerates the credential lifecycle states.
type Status string

const (
	// StatusUnknown means the credential was set but never validated.
	StatusUnknown Status = "unknown"
	// StatusValid means upstream confirmed the credential within the
	// freshness window.
	StatusValid Status = "valid"
	// StatusInvalid means upstream explicitly rejected the credential.
	// Only a fresh paste leaves this state.
	StatusInvalid Status = "invalid"
	// StatusExpired means the credential is locally judged stale and needs
	// re-validation.
	StatusExpired Status = "expired"
)

// DefaultStalenessThreshold is how long a validated credential is presumed
// fresh before it is locally marked expired.
const DefaultStalenessThreshold = 12 * time.Hour

// Gate errors. The API boundary maps all three to 401 with an actionable
// re-authentication message.
var (
	ErrNoCredential      = errors.New("no credential configured")
	ErrCredentialInvalid = errors.New("credential rejected by upstream, refresh your cookies")
	ErrCredentialExpired = errors.New("credential is stale, refresh your cookies")
)

// State is an immutable snapshot of the lifecycle for status reporting.
type State struct {
	Present     bool       `json:"present"`
	Status      Status     `json:"status,omitempty"`
	SetAt       time.Time  `json:"set_at,omitzero"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// Lifecycle is the single owner of credential state. All mutation goes
// through its methods; observers are notified after each status change.
type Lifecycle struct {
	mu          sync.Mutex
	threshold   time.Duration
	now         func() time.Time
	cookies     string // canonical form, empty when absent
	status      Status
	setAt       time.Time
	validatedAt time.Time // zero if never validated
	onChange    func(State)
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithObserver registers a callback invoked (outside the lock) whenever the
// status changes.
func WithObserver(fn func(State)) Option {
	return func(l *Lifecycle) { l.onChange = fn }
}

// NewLifecycle creates an empty lifecycle in the absent pre-state.
func NewLifecycle(threshold time.Duration, opts ...Option) *Lifecycle {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	l := &Lifecycle{
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Set installs a freshly pasted credential in the unknown state. This is the
// only transition out of invalid.
func (l *Lifecycle) Set(canonical string) State {
	l.mu.Lock()
	l.cookies = canonical
	l.status = StatusUnknown
	l.setAt = l.now()
	l.validatedAt = time.Time{}
	s := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(s)
	return s
}

// Restore rehydrates persisted lifecycle state on load and immediately
// re-evaluates staleness.
func (l *Lifecycle) Restore(canonical string, status Status, setAt time.Time, validatedAt *time.Time) State {
	l.mu.Lock()
	l.cookies = canonical
	l.status = status
	l.setAt = setAt
	l.validatedAt = time.Time{}
	if validatedAt != nil {
		l.validatedAt = *validatedAt
	}
	l.checkStalenessLocked()
	s := l.snapshotLocked()
	l.mu.Unlock()
	return s
}

// Clear discards the credential entirely (logout).
func (l *Lifecycle) Clear() State {
	l.mu.Lock()
	l.cookies = ""
	l.status = ""
	l.setAt = time.Time{}
	l.validatedAt = time.Time{}
	s := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(s)
	return s
}

// Cookies returns the decrypted canonical credential, if present.
func (l *Lifecycle) Cookies() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cookies, l.cookies != ""
}

// Status re-evaluates staleness and returns the current status.
func (l *Lifecycle) Status() Status {
	s, _ := l.Refresh()
	return s.Status
}

// Snapshot returns the current state (after a staleness re-check).
func (l *Lifecycle) Snapshot() State {
	s, _ := l.Refresh()
	return s
}

// Refresh re-evaluates staleness, reporting the resulting state and whether
// the check itself transitioned the credential to expired. The transition
// notifies observers like any other status change; callers that mirror
// status into a store use the changed report to do the same.
func (l *Lifecycle) Refresh() (State, bool) {
	l.mu.Lock()
	changed := l.checkStalenessLocked()
	s := l.snapshotLocked()
	l.mu.Unlock()
	if changed {
		l.notify(s)
	}
	return s, changed
}

// MarkValid records a successful upstream exchange. It is a no-op while the
// credential is invalid: an explicitly rejected credential never self-heals.
func (l *Lifecycle) MarkValid() State {
	l.mu.Lock()
	if l.cookies == "" || l.status == StatusInvalid {
		s := l.snapshotLocked()
		l.mu.Unlock()
		return s
	}
	changed := l.status != StatusValid
	l.status = StatusValid
	l.validatedAt = l.now()
	s := l.snapshotLocked()
	l.mu.Unlock()
	if changed {
		l.notify(s)
	}
	return s
}

// MarkInvalid records an upstream 401/403 rejection.
func (l *Lifecycle) MarkInvalid() State {
	l.mu.Lock()
	if l.cookies == "" {
		s := l.snapshotLocked()
		l.mu.Unlock()
		return s
	}
	changed := l.status != StatusInvalid
	l.status = StatusInvalid
	s := l.snapshotLocked()
	l.mu.Unlock()
	if changed {
		l.notify(s)
	}
	return s
}

// Gate decides whether an outgoing chat or speech request may proceed.
// Unknown proceeds optimistically (first try after a paste); valid proceeds
// only while fresh.
func (l *Lifecycle) Gate() error {
	s, _ := l.Refresh()
	if !s.Present {
		return ErrNoCredential
	}

	switch s.Status {
	case StatusInvalid:
		return ErrCredentialInvalid
	case StatusExpired:
		return ErrCredentialExpired
	default:
		return nil
	}
}

// checkStalenessLocked transitions valid→expired once the freshness window
// elapses. Reports whether the status changed.
func (l *Lifecycle) checkStalenessLocked() bool {
	if l.status != StatusValid {
		return false
	}
	ref := l.validatedAt
	if ref.IsZero() {
		ref = l.setAt
	}
	if l.now().Sub(ref) > l.threshold {
		l.status = StatusExpired
		return true
	}
	return false
}

func (l *Lifecycle) snapshotLocked() State {
	s := State{
		Present: l.cookies != "",
		Status:  l.status,
		SetAt:   l.setAt,
	}
	if !l.validatedAt.IsZero() {
		v := l.validatedAt
		s.ValidatedAt = &v
	}
	return s
}

func (l *Lifecycle) notify(s State) {
	if l.onChange != nil {
		l.onChange(s)
	}
}
