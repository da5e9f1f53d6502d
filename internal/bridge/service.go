// Package bridge coordinates the cookie-authenticated session bridge: it owns
// the credential lifecycle, persists conversations, and drives signed
// exchanges against the upstream gateway.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avdeyev/gembridge/internal/cookie"
	"github.com/avdeyev/gembridge/internal/credential"
	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/store"
	"github.com/avdeyev/gembridge/internal/upstream"
)

// Gateway abstracts the upstream client for tests.
type Gateway interface {
	Chat(ctx context.Context, credential, message string, history []domain.Message) (string, error)
	SynthesizeSpeech(ctx context.Context, credential, text string) (audioBase64, mimeType string, err error)
	Validate(ctx context.Context, credential string) (valid bool, message string, err error)
}

// SendResult is the outcome of a completed chat exchange.
type SendResult struct {
	ConversationID string
	Reply          domain.Message
}

// Service is the single controller owning credential state. All credential
// mutation flows through it; UI-facing handlers only call its methods.
type Service struct {
	repo    store.Repository
	gw      Gateway
	life    *credential.Lifecycle
	secret  string
	flights *flightTable
}

// New creates the bridge service.
func New(repo store.Repository, gw Gateway, life *credential.Lifecycle, secret string) *Service {
	return &Service{
		repo:    repo,
		gw:      gw,
		life:    life,
		secret:  secret,
		flights: newFlightTable(),
	}
}

// Rehydrate loads the persisted credential on startup, decrypts it into
// memory, and immediately re-evaluates staleness. A credential that fails to
// decrypt is destroyed.
func (s *Service) Rehydrate(ctx context.Context) error {
	rec, err := s.repo.GetCredential(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return nil
	}

	key := credential.DeriveKey(s.secret, rec.Salt)
	plain, err := credential.Decrypt(rec.Ciphertext, rec.Nonce, key)
	if err != nil {
		slog.Warn("Stored credential could not be decrypted, discarding", "error", err)
		return s.repo.DeleteCredential(ctx)
	}

	state := s.life.Restore(plain, credential.Status(rec.Status), rec.SetAt, rec.ValidatedAt)
	if string(state.Status) != rec.Status {
		// Restore marked the credential stale; keep the store in sync.
		s.persistStatus(ctx, state)
	}
	slog.Info("Credential rehydrated", "status", state.Status)
	return nil
}

// SetCredential sanitizes and installs a freshly pasted cookie blob,
// encrypts it at rest, and optionally round-trips an immediate validation.
func (s *Service) SetCredential(ctx context.Context, raw string, validateNow bool) (credential.State, error) {
	canonical := cookie.Sanitize(raw)
	if !cookie.HasRequiredTokens(canonical) {
		return credential.State{}, &upstream.CredentialError{
			Reason: fmt.Sprintf("missing required session cookies (%s)", strings.Join(cookie.RequiredTokens, ", ")),
		}
	}

	salt, err := credential.NewSalt()
	if err != nil {
		return credential.State{}, err
	}
	key := credential.DeriveKey(s.secret, salt)
	ciphertext, nonce, err := credential.Encrypt(canonical, key)
	if err != nil {
		return credential.State{}, fmt.Errorf("encrypt credential: %w", err)
	}

	state := s.life.Set(canonical)
	rec := &domain.CredentialRecord{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Salt:       salt,
		Status:     string(state.Status),
		SetAt:      state.SetAt,
	}
	if err := s.repo.SaveCredential(ctx, rec); err != nil {
		return state, fmt.Errorf("persist credential: %w", err)
	}

	if validateNow {
		valid, _, verr := s.gw.Validate(ctx, canonical)
		var credErr *upstream.CredentialError
		switch {
		case valid:
			state = s.life.MarkValid()
			s.persistStatus(ctx, state)
		case errors.As(verr, &credErr):
			state = s.life.MarkInvalid()
			s.persistStatus(ctx, state)
		default:
			// Transient failure: the credential stays unknown and gets an
			// optimistic first try later.
			slog.Warn("Immediate credential validation inconclusive", "error", verr)
		}
	}

	return state, nil
}

// ClearCredential discards the credential entirely (logout).
func (s *Service) ClearCredential(ctx context.Context) error {
	s.life.Clear()
	if err := s.repo.DeleteCredential(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// CredentialState reports the current lifecycle snapshot.
func (s *Service) CredentialState() credential.State {
	return s.life.Snapshot()
}

// ValidateCredential round-trips a probe exchange and applies the resulting
// lifecycle transition. The probe never appears in any conversation.
func (s *Service) ValidateCredential(ctx context.Context) (bool, string) {
	cookies, ok := s.life.Cookies()
	if !ok {
		return false, credential.ErrNoCredential.Error()
	}

	valid, message, err := s.gw.Validate(ctx, cookies)
	if valid {
		s.persistStatus(ctx, s.life.MarkValid())
		return true, ""
	}
	var credErr *upstream.CredentialError
	if errors.As(err, &credErr) {
		s.persistStatus(ctx, s.life.MarkInvalid())
	}
	return false, message
}

// Send runs one chat exchange: gate the credential, frame history, persist
// the user turn, call upstream, and persist the reply. A send superseded by a
// newer one for the same conversation resolves with context.Canceled and
// writes no further state.
func (s *Service) Send(ctx context.Context, conversationID, message, origin string) (SendResult, error) {
	var res SendResult

	if err := s.gate(ctx); err != nil {
		return res, err
	}
	cookies, _ := s.life.Cookies()

	conv, err := s.conversationForSend(ctx, conversationID, message)
	if err != nil {
		return res, err
	}
	history := conv.HistoryPayload()

	userMsg := domain.NewMessage(domain.RoleUser, message, origin)
	if err := s.repo.AppendMessage(ctx, conv.ID, &userMsg); err != nil {
		return res, fmt.Errorf("persist user message: %w", err)
	}

	callCtx, done := s.flights.begin(ctx, conv.ID)
	defer done()

	text, err := s.gw.Chat(callCtx, cookies, message, history)
	if err != nil {
		return res, s.resolveExchangeError(ctx, callCtx, err)
	}
	if callCtx.Err() != nil {
		// Late resolution of a canceled call: ignore the result entirely.
		return res, context.Canceled
	}

	s.persistStatus(ctx, s.life.MarkValid())

	reply := domain.NewMessage(domain.RoleAssistant, text, origin)
	if err := s.repo.AppendMessage(ctx, conv.ID, &reply); err != nil {
		return res, fmt.Errorf("persist assistant message: %w", err)
	}

	return SendResult{ConversationID: conv.ID, Reply: reply}, nil
}

// Speak synthesizes speech for text. available is false when upstream
// produced no audio part — a non-fatal outcome, not an error.
func (s *Service) Speak(ctx context.Context, text string) (dataURL string, available bool, err error) {
	if err := s.gate(ctx); err != nil {
		return "", false, err
	}
	cookies, _ := s.life.Cookies()

	audio, mime, err := s.gw.SynthesizeSpeech(ctx, cookies, text)
	if err != nil {
		return "", false, s.resolveExchangeError(ctx, ctx, err)
	}

	s.persistStatus(ctx, s.life.MarkValid())

	if audio == "" {
		return "", false, nil
	}
	return "data:" + mime + ";base64," + audio, true, nil
}

// CancelInflight aborts the current exchange for a conversation (stop
// button). Reports whether there was one to cancel.
func (s *Service) CancelInflight(conversationID string) bool {
	return s.flights.cancelKey(conversationID)
}

// gate consults the lifecycle before any network attempt and keeps the
// persisted status in sync when the check itself transitions valid→expired.
func (s *Service) gate(ctx context.Context) error {
	if state, changed := s.life.Refresh(); changed {
		s.persistStatus(ctx, state)
	}
	return s.life.Gate()
}

// resolveExchangeError applies lifecycle transitions for a failed upstream
// exchange. Cancellation passes through untouched so the boundary can discard
// it silently.
func (s *Service) resolveExchangeError(ctx, callCtx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || callCtx.Err() != nil {
		return context.Canceled
	}
	var credErr *upstream.CredentialError
	if errors.As(err, &credErr) {
		s.persistStatus(ctx, s.life.MarkInvalid())
	}
	return err
}

// conversationForSend loads the target conversation, creating a fresh one
// (titled after the message) when no ID is given.
func (s *Service) conversationForSend(ctx context.Context, conversationID, message string) (*domain.Conversation, error) {
	if conversationID == "" {
		conv := domain.NewConversation(message)
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// ErrConversationNotFound is returned for sends into unknown conversations.
var ErrConversationNotFound = errors.New("conversation not found")

// persistStatus mirrors a lifecycle snapshot into the store. Persistence here
// is best-effort: a write failure must not fail the exchange that triggered
// the transition.
func (s *Service) persistStatus(ctx context.Context, state credential.State) {
	if !state.Present {
		return
	}
	var validatedAt *time.Time
	if state.ValidatedAt != nil {
		v := *state.ValidatedAt
		validatedAt = &v
	}
	if err := s.repo.UpdateCredentialStatus(context.WithoutCancel(ctx), string(state.Status), validatedAt); err != nil {
		slog.Warn("Failed to persist credential status", "status", state.Status, "error", err)
	}
}
