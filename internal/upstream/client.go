// Package upstream issues cookie-signed HTTP calls to the external
// conversational endpoint and maps transport failures into typed errors.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/avdeyev/gembridge/internal/cookie"
	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/sign"
)

const (
	// DefaultEndpoint is the generative-content endpoint the bridge talks to.
	DefaultEndpoint = "https://gemini.google.com/v1beta/models/gemini-2.0-flash:generateContent"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	// validationProbe is the trivial message used by Validate. It never
	// reaches the user's visible conversation.
	validationProbe = "Hi"

	// voiceName is the fixed prebuilt voice used for speech synthesis.
	voiceName = "Aoede"
)

// GenerationConfig mirrors the upstream generationConfig object for chat.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// DefaultGenerationConfig returns the sampling parameters used unless
// configuration overrides them.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     0.9,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 2048,
	}
}

// Config holds client construction parameters.
type Config struct {
	Endpoint   string
	HTTPClient *http.Client
	Signer     *sign.Signer
	Generation GenerationConfig
}

// Client is the upstream gateway. It is safe for concurrent use; all
// per-request state (the signed header in particular) is recomputed per call.
type Client struct {
	endpoint string
	http     *http.Client
	signer   *sign.Signer
	gen      GenerationConfig
}

// NewClient creates an upstream gateway client.
func NewClient(cfg Config) *Client {
	c := &Client{
		endpoint: cfg.Endpoint,
		http:     cfg.HTTPClient,
		signer:   cfg.Signer,
		gen:      cfg.Generation,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.signer == nil {
		c.signer = sign.New()
	}
	if c.gen == (GenerationConfig{}) {
		c.gen = DefaultGenerationConfig()
	}
	return c
}

// Wire shapes.

type generateRequest struct {
	Contents         []Turn            `json:"contents"`
	GenerationConfig *generationParams `json:"generationConfig,omitempty"`
}

type generationParams struct {
	Temperature        *float64      `json:"temperature,omitempty"`
	TopP               *float64      `json:"topP,omitempty"`
	TopK               *int          `json:"topK,omitempty"`
	MaxOutputTokens    *int          `json:"maxOutputTokens,omitempty"`
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content candidateContent `json:"content"`
}

type candidateContent struct {
	Parts []responsePart `json:"parts"`
}

type responsePart struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Chat sends one user turn with its framed history and returns the
// concatenated response text. A response with no text anywhere in the
// expected shape yields an empty string, not an error.
func (c *Client) Chat(ctx context.Context, credential, message string, history []domain.Message) (string, error) {
	canonical, err := c.precheck(credential)
	if err != nil {
		return "", err
	}

	body := generateRequest{
		Contents: BuildContents(history, message),
		GenerationConfig: &generationParams{
			Temperature:     &c.gen.Temperature,
			TopP:            &c.gen.TopP,
			TopK:            &c.gen.TopK,
			MaxOutputTokens: &c.gen.MaxOutputTokens,
		},
	}

	resp, err := c.post(ctx, canonical, body)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
		// Only the first candidate carries the reply.
		break
	}
	return text.String(), nil
}

// SynthesizeSpeech asks upstream for an audio rendition of text. When the
// response carries no audio part the empty results signal a non-fatal
// "no audio available" outcome.
func (c *Client) SynthesizeSpeech(ctx context.Context, credential, text string) (audioBase64, mimeType string, err error) {
	canonical, err := c.precheck(credential)
	if err != nil {
		return "", "", err
	}

	body := generateRequest{
		Contents: []Turn{{Role: "user", Parts: []Part{{Text: text}}}},
		GenerationConfig: &generationParams{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voiceName},
				},
			},
		},
	}

	resp, err := c.post(ctx, canonical, body)
	if err != nil {
		return "", "", err
	}

	if len(resp.Candidates) == 0 {
		return "", "", nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MimeType, "audio/") {
			return part.InlineData.Data, part.InlineData.MimeType, nil
		}
	}
	return "", "", nil
}

// Validate round-trips a minimal probe exchange to confirm the credential.
// The returned error, when non-nil, is the typed failure behind an invalid
// result so callers can distinguish rejection from transient trouble.
func (c *Client) Validate(ctx context.Context, credential string) (valid bool, message string, err error) {
	if _, err := c.Chat(ctx, credential, validationProbe, nil); err != nil {
		return false, err.Error(), err
	}
	return true, "", nil
}

// precheck sanitizes the credential and rejects it locally before any
// network call when required tokens are missing.
func (c *Client) precheck(credential string) (string, error) {
	canonical := cookie.Sanitize(credential)
	if !cookie.HasRequiredTokens(canonical) {
		return "", &CredentialError{
			Reason: fmt.Sprintf("missing required session cookies (%s)", strings.Join(cookie.RequiredTokens, ", ")),
		}
	}
	return canonical, nil
}

// post issues one signed POST and maps the response into typed results.
func (c *Client) post(ctx context.Context, canonical string, payload generateRequest) (*generateResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := c.setHeaders(req, canonical); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Preserve cancellation so superseded requests can be discarded
		// silently.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("call upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &CredentialError{Reason: fmt.Sprintf("upstream rejected credential (%d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncateBody(body)}
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: "malformed response body"}
	}
	return &out, nil
}

// setHeaders attaches the fixed transport headers plus a freshly computed
// signed authorization value. The signature embeds the current timestamp and
// must never be reused across requests.
func (c *Client) setHeaders(req *http.Request, canonical string) error {
	auth, err := c.signer.Authorization(canonical)
	if err != nil {
		return &CredentialError{Reason: err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Cookie", canonical)
	req.Header.Set("Origin", sign.Origin)
	req.Header.Set("Referer", sign.Origin+"/")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "SAPISIDHASH "+auth)
	req.Header.Set("x-origin", sign.Origin)
	req.Header.Set("x-goog-authuser", "0")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	return nil
}
