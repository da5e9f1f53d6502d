package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avdeyev/gembridge/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestCredentialRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetCredential(ctx)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got != nil {
		t.Fatalf("empty store returned a credential: %+v", got)
	}

	rec := &domain.CredentialRecord{
		Ciphertext: []byte("sealed"),
		Nonce:      []byte("nonce"),
		Salt:       []byte("salt"),
		Status:     "unknown",
		SetAt:      time.Unix(1700000000, 0),
	}
	if err := repo.SaveCredential(ctx, rec); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}

	got, err = repo.GetCredential(ctx)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got == nil {
		t.Fatal("saved credential not found")
	}
	if string(got.Ciphertext) != "sealed" || got.Status != "unknown" {
		t.Errorf("loaded record = %+v", got)
	}
	if !got.SetAt.Equal(rec.SetAt) {
		t.Errorf("SetAt = %v, want %v", got.SetAt, rec.SetAt)
	}
	if got.ValidatedAt != nil {
		t.Errorf("ValidatedAt = %v, want nil", got.ValidatedAt)
	}
}

func TestSaveCredentialReplacesSingleRow(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first := &domain.CredentialRecord{
		Ciphertext: []byte("one"), Nonce: []byte("n1"), Salt: []byte("s1"),
		Status: "unknown", SetAt: time.Unix(1700000000, 0),
	}
	second := &domain.CredentialRecord{
		Ciphertext: []byte("two"), Nonce: []byte("n2"), Salt: []byte("s2"),
		Status: "unknown", SetAt: time.Unix(1700000100, 0),
	}
	if err := repo.SaveCredential(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveCredential(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Ciphertext) != "two" {
		t.Errorf("Ciphertext = %q, want replacement", got.Ciphertext)
	}
}

func TestUpdateCredentialStatus(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := &domain.CredentialRecord{
		Ciphertext: []byte("c"), Nonce: []byte("n"), Salt: []byte("s"),
		Status: "unknown", SetAt: time.Unix(1700000000, 0),
	}
	if err := repo.SaveCredential(ctx, rec); err != nil {
		t.Fatal(err)
	}

	validatedAt := time.Unix(1700000500, 0)
	if err := repo.UpdateCredentialStatus(ctx, "valid", &validatedAt); err != nil {
		t.Fatalf("UpdateCredentialStatus failed: %v", err)
	}

	got, err := repo.GetCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "valid" {
		t.Errorf("Status = %q, want valid", got.Status)
	}
	if got.ValidatedAt == nil || !got.ValidatedAt.Equal(validatedAt) {
		t.Errorf("ValidatedAt = %v, want %v", got.ValidatedAt, validatedAt)
	}

	// Status-only update keeps the existing timestamp.
	if err := repo.UpdateCredentialStatus(ctx, "expired", nil); err != nil {
		t.Fatal(err)
	}
	got, err = repo.GetCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "expired" || got.ValidatedAt == nil {
		t.Errorf("after status-only update: %+v", got)
	}
}

func TestDeleteCredential(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := &domain.CredentialRecord{
		Ciphertext: []byte("c"), Nonce: []byte("n"), Salt: []byte("s"),
		Status: "unknown", SetAt: time.Unix(1700000000, 0),
	}
	if err := repo.SaveCredential(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteCredential(ctx); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}

	got, err := repo.GetCredential(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("credential survived delete: %+v", got)
	}
}

func TestConversationLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	conv := domain.NewConversation("what is Go?")
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	base := time.Unix(1700000000, 0)
	user := domain.NewMessage(domain.RoleUser, "what is Go?", "user")
	user.CreatedAt = base
	reply := domain.NewMessage(domain.RoleAssistant, "a language", "user")
	reply.CreatedAt = base.Add(2 * time.Second)

	if err := repo.AppendMessage(ctx, conv.ID, &user); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := repo.AppendMessage(ctx, conv.ID, &reply); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("conversation not found")
	}
	if got.Title != "what is Go?" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != domain.RoleUser || got.Messages[1].Role != domain.RoleAssistant {
		t.Errorf("message order wrong: %v then %v", got.Messages[0].Role, got.Messages[1].Role)
	}
	if got.Messages[0].Origin != "user" {
		t.Errorf("Origin = %q", got.Messages[0].Origin)
	}

	list, err := repo.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d conversations, want 1", len(list))
	}
	if len(list[0].Messages) != 0 {
		t.Error("list included message bodies")
	}

	if err := repo.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	got, err = repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("conversation survived delete")
	}
}

func TestGetConversationMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetConversation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Errorf("missing conversation returned %+v", got)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	older := domain.NewConversation("older")
	older.CreatedAt = time.Unix(1700000000, 0)
	older.UpdatedAt = older.CreatedAt
	newer := domain.NewConversation("newer")
	newer.CreatedAt = time.Unix(1700001000, 0)
	newer.UpdatedAt = newer.CreatedAt

	if err := repo.CreateConversation(ctx, older); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateConversation(ctx, newer); err != nil {
		t.Fatal(err)
	}

	list, err := repo.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Title != "newer" {
		t.Errorf("unexpected order: %v", []string{list[0].Title, list[1].Title})
	}
}

func TestReminderLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rem := domain.NewReminder(domain.ReminderIn, "10m", "stand up", "")
	if err := repo.CreateReminder(ctx, rem); err != nil {
		t.Fatalf("CreateReminder failed: %v", err)
	}

	active, err := repo.ListReminders(ctx, true)
	if err != nil {
		t.Fatalf("ListReminders failed: %v", err)
	}
	if len(active) != 1 || active[0].Message != "stand up" {
		t.Fatalf("active reminders = %+v", active)
	}

	if err := repo.DeactivateReminder(ctx, rem.ID); err != nil {
		t.Fatalf("DeactivateReminder failed: %v", err)
	}
	active, err = repo.ListReminders(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("deactivated reminder still listed active: %+v", active)
	}
	all, err := repo.ListReminders(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Active {
		t.Errorf("all reminders = %+v", all)
	}

	if err := repo.DeleteReminder(ctx, rem.ID); err != nil {
		t.Fatalf("DeleteReminder failed: %v", err)
	}
	all, err = repo.ListReminders(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("reminder survived delete: %+v", all)
	}
}
