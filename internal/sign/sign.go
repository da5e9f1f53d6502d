// Package sign derives the time-boxed SAPISIDHASH authorization value from a
// session cookie token. The upstream service validates freshness of the
// embedded timestamp, so a signature must be recomputed for every request.
package sign

import (
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/avdeyev/gembridge/internal/cookie"
)

// Origin is the canonical origin of the upstream service. It is part of the
// digest input and must match the Origin header sent with each request.
const Origin = "https://gemini.google.com"

// ErrNoSigningToken indicates none of the SAPISID-family cookies were found.
var ErrNoSigningToken = fmt.Errorf("no SAPISID-family signing token in cookies (need one of %v)", tokenNames)

// tokenNames are tried in order: the modern name first, then the two legacy
// fallbacks still set on older accounts.
var tokenNames = []string{"__Secure-3PAPISID", "SAPISID", "APISID"}

// Signer computes authorization values. The clock is injectable so tests can
// pin the timestamp and verify the digest is deterministic.
type Signer struct {
	now func() time.Time
}

// New returns a Signer using the wall clock.
func New() *Signer {
	return &Signer{now: time.Now}
}

// NewWithClock returns a Signer with a fixed clock source.
func NewWithClock(now func() time.Time) *Signer {
	return &Signer{now: now}
}

// Authorization derives the "{timestamp}_{sha1hex}" value for a canonical
// cookie string. The result is only good for the single outgoing call.
func (s *Signer) Authorization(canonical string) (string, error) {
	token, ok := signingToken(canonical)
	if !ok {
		return "", ErrNoSigningToken
	}
	ts := s.now().Unix()
	digest := sha1.Sum(fmt.Appendf(nil, "%d %s %s", ts, token, Origin))
	return fmt.Sprintf("%d_%x", ts, digest), nil
}

func signingToken(canonical string) (string, bool) {
	for _, name := range tokenNames {
		if v, ok := cookie.Value(canonical, name); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
