package upstream

import "fmt"

// maxErrorBody caps how much upstream body text is carried in an error for
// diagnostics.
const maxErrorBody = 512

// CredentialError means the credential is missing, structurally unusable, or
// was rejected by upstream (401/403). Never retried automatically; the caller
// must prompt for re-authentication.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return "credential error: " + e.Reason
}

// RateLimitError means upstream answered 429. Transient and user-retryable;
// it says nothing about credential validity.
type RateLimitError struct{}

func (e *RateLimitError) Error() string {
	return "upstream rate limit exceeded"
}

// UpstreamError is any other non-2xx upstream response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}

// truncateBody caps the carried body at maxErrorBody bytes, ellipsis
// included.
func truncateBody(b []byte) string {
	const ellipsis = "…"
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody-len(ellipsis)]) + ellipsis
	}
	return string(b)
}
