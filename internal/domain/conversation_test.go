package domain

import (
	"strings"
	"testing"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "hello there", "hello there"},
		{"trimmed", "  hello  ", "hello"},
		{"empty", "", "New conversation"},
		{"whitespace only", "   \n ", "New conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveTitle(tt.text); got != tt.want {
				t.Errorf("DeriveTitle(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}

	long := strings.Repeat("x", 100)
	title := DeriveTitle(long)
	if len([]rune(title)) > 49 {
		t.Errorf("long title not capped: %q (%d runes)", title, len([]rune(title)))
	}
	if !strings.HasSuffix(title, "…") {
		t.Errorf("truncated title missing ellipsis: %q", title)
	}
}

func TestHistoryPayloadStripsGenerating(t *testing.T) {
	conv := NewConversation("first")
	conv.Messages = []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleAssistant, Content: "partial", Generating: true},
	}

	history := conv.HistoryPayload()
	if len(history) != 2 {
		t.Fatalf("HistoryPayload returned %d messages, want 2", len(history))
	}
	for _, m := range history {
		if m.Generating {
			t.Errorf("generating message leaked into history: %+v", m)
		}
	}
}

func TestHistoryPayloadDropsTrailingUserMessage(t *testing.T) {
	conv := NewConversation("first")
	conv.Messages = []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2 about to be resubmitted"},
	}

	history := conv.HistoryPayload()
	if len(history) != 2 {
		t.Fatalf("HistoryPayload returned %d messages, want 2", len(history))
	}
	if history[len(history)-1].Role != RoleAssistant {
		t.Errorf("last history message role = %v, want assistant", history[len(history)-1].Role)
	}
}

func TestHistoryPayloadEmptyConversation(t *testing.T) {
	conv := NewConversation("first")
	if got := conv.HistoryPayload(); len(got) != 0 {
		t.Errorf("HistoryPayload on empty conversation = %v, want empty", got)
	}
}

func TestHistoryPayloadKeepsSystemMessages(t *testing.T) {
	conv := NewConversation("first")
	conv.Messages = []Message{
		{Role: RoleSystem, Content: "note"},
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
	}

	history := conv.HistoryPayload()
	if len(history) != 3 {
		t.Fatalf("HistoryPayload returned %d messages, want 3", len(history))
	}
	if history[0].Role != RoleSystem {
		t.Errorf("system message dropped from local history")
	}
}
