package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/sign"
)

const testCredential = "__Secure-1PSID=abc; __Secure-1PSIDTS=def; SAPISID=tok"

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		Endpoint:   srv.URL,
		HTTPClient: srv.Client(),
		Signer:     sign.NewWithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	})
	return client, srv
}

func textResponse(texts ...string) generateResponse {
	parts := make([]responsePart, len(texts))
	for i, txt := range texts {
		parts[i] = responsePart{Text: txt}
	}
	return generateResponse{Candidates: []candidate{{Content: candidateContent{Parts: parts}}}}
}

func TestChatMissingRequiredCookies(t *testing.T) {
	requests := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
	})

	_, err := client.Chat(context.Background(), "SAPISID=tok", "hi", nil)

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Chat error = %v, want CredentialError", err)
	}
	if !strings.Contains(credErr.Reason, "__Secure-1PSID") {
		t.Errorf("reason %q does not name the missing token", credErr.Reason)
	}
	if requests != 0 {
		t.Errorf("structurally invalid credential still dispatched %d requests", requests)
	}
}

func TestChatSignedHeaders(t *testing.T) {
	var got http.Header
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(textResponse("ok"))
	})

	if _, err := client.Chat(context.Background(), testCredential, "hi", nil); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	auth := got.Get("Authorization")
	if !strings.HasPrefix(auth, "SAPISIDHASH 1700000000_") {
		t.Errorf("Authorization = %q, want SAPISIDHASH with pinned timestamp", auth)
	}
	if got.Get("Cookie") != testCredential {
		t.Errorf("Cookie header = %q, want canonical credential", got.Get("Cookie"))
	}
	if got.Get("Origin") != sign.Origin {
		t.Errorf("Origin header = %q, want %q", got.Get("Origin"), sign.Origin)
	}
	if got.Get("x-goog-authuser") != "0" {
		t.Errorf("x-goog-authuser = %q", got.Get("x-goog-authuser"))
	}
}

func TestChatNoSigningToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request dispatched without a signing token")
	})

	_, err := client.Chat(context.Background(), "__Secure-1PSID=a; __Secure-1PSIDTS=b", "hi", nil)

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Chat error = %v, want CredentialError", err)
	}
}

func TestChatFramesHistory(t *testing.T) {
	var req generateRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(textResponse("reply"))
	})

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
	}
	if _, err := client.Chat(context.Background(), testCredential, "q2", history); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(req.Contents) != 3 {
		t.Fatalf("request carried %d turns, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("assistant turn framed as %q, want model", req.Contents[1].Role)
	}
	if req.Contents[2].Parts[0].Text != "q2" {
		t.Errorf("final turn = %+v, want the new message", req.Contents[2])
	}
	if req.GenerationConfig == nil || req.GenerationConfig.Temperature == nil {
		t.Error("generation config missing from chat request")
	}
}

func TestChatConcatenatesFirstCandidateText(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := generateResponse{Candidates: []candidate{
			{Content: candidateContent{Parts: []responsePart{{Text: "Hello, "}, {Text: "world"}}}},
			{Content: candidateContent{Parts: []responsePart{{Text: "ignored second candidate"}}}},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	got, err := client.Chat(context.Background(), testCredential, "hi", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "Hello, world" {
		t.Errorf("Chat = %q, want concatenated first-candidate text", got)
	}
}

func TestChatEmptyWhenNoText(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{})
	})

	got, err := client.Chat(context.Background(), testCredential, "hi", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "" {
		t.Errorf("Chat = %q, want empty string for missing text", got)
	}
}

func TestChatStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, func(t *testing.T, err error) {
			var credErr *CredentialError
			if !errors.As(err, &credErr) {
				t.Errorf("401 mapped to %v, want CredentialError", err)
			}
		}},
		{http.StatusForbidden, func(t *testing.T, err error) {
			var credErr *CredentialError
			if !errors.As(err, &credErr) {
				t.Errorf("403 mapped to %v, want CredentialError", err)
			}
		}},
		{http.StatusTooManyRequests, func(t *testing.T, err error) {
			var rateErr *RateLimitError
			if !errors.As(err, &rateErr) {
				t.Errorf("429 mapped to %v, want RateLimitError", err)
			}
		}},
		{http.StatusInternalServerError, func(t *testing.T, err error) {
			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("500 mapped to %v, want UpstreamError", err)
			}
			if upErr.Status != http.StatusInternalServerError {
				t.Errorf("UpstreamError.Status = %d", upErr.Status)
			}
		}},
	}

	for _, tt := range tests {
		status := tt.status
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream says no"))
		})
		_, err := client.Chat(context.Background(), testCredential, "hi", nil)
		tt.check(t, err)
	}
}

func TestChatTruncatesErrorBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	})

	_, err := client.Chat(context.Background(), testCredential, "hi", nil)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Chat error = %v, want UpstreamError", err)
	}
	if len(upErr.Body) > 512 {
		t.Errorf("error body not truncated: %d bytes", len(upErr.Body))
	}
	if !strings.HasSuffix(upErr.Body, "…") {
		t.Error("truncated body does not end with an ellipsis")
	}
}

func TestChatMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not json"))
	})

	_, err := client.Chat(context.Background(), testCredential, "hi", nil)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("Chat error = %v, want UpstreamError", err)
	}
}

func TestChatCancellationPassesThrough(t *testing.T) {
	started := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client abort and the
		// handler can exit on server shutdown.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Chat(ctx, testCredential, "hi", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Chat error = %v, want context.Canceled", err)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	var req generateRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := generateResponse{Candidates: []candidate{{Content: candidateContent{Parts: []responsePart{
			{Text: "transcript"},
			{InlineData: &inlineData{MimeType: "audio/mp3", Data: "QUJD"}},
		}}}}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	audio, mime, err := client.SynthesizeSpeech(context.Background(), testCredential, "say this")
	if err != nil {
		t.Fatalf("SynthesizeSpeech failed: %v", err)
	}
	if audio != "QUJD" || mime != "audio/mp3" {
		t.Errorf("SynthesizeSpeech = (%q, %q)", audio, mime)
	}

	if req.GenerationConfig == nil || len(req.GenerationConfig.ResponseModalities) != 1 || req.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("speech request modalities = %+v, want [AUDIO]", req.GenerationConfig)
	}
	if req.GenerationConfig.SpeechConfig == nil || req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName == "" {
		t.Error("speech request missing voice config")
	}
}

func TestSynthesizeSpeechNoAudio(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse("text only"))
	})

	audio, mime, err := client.SynthesizeSpeech(context.Background(), testCredential, "say this")
	if err != nil {
		t.Fatalf("SynthesizeSpeech failed: %v", err)
	}
	if audio != "" || mime != "" {
		t.Errorf("SynthesizeSpeech without audio = (%q, %q), want empty results", audio, mime)
	}
}

func TestValidate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse("hello"))
	})

	valid, message, err := client.Validate(context.Background(), testCredential)
	if err != nil || !valid || message != "" {
		t.Errorf("Validate = (%v, %q, %v), want (true, \"\", nil)", valid, message, err)
	}
}

func TestValidateRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	valid, message, err := client.Validate(context.Background(), testCredential)
	if valid {
		t.Error("Validate reported rejected credential as valid")
	}
	if message == "" {
		t.Error("Validate returned no failure message")
	}
	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Errorf("Validate error = %v, want CredentialError", err)
	}
}
