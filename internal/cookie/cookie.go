// Package cookie normalizes and inspects pasted browser cookie blobs.
//
// Users copy their session cookies straight out of browser devtools, so the
// raw input arrives with newlines, duplicated separators and stray
// whitespace. Everything here is a pure function: malformed input degrades
// to an empty or partial result, never an error.
package cookie

import (
	"regexp"
	"strings"
)

// RequiredTokens are the session identifiers that must both be present for a
// credential to be considered structurally usable. Presence is a local
// necessary-but-not-sufficient check; real validity is only established by a
// round-trip to the upstream service.
var RequiredTokens = []string{"__Secure-1PSID", "__Secure-1PSIDTS"}

var (
	newlineRun = regexp.MustCompile(`[ \t]*[\r\n]+[ \t]*`)
	spaceRun   = regexp.MustCompile(` {2,}`)
	semiRun    = regexp.MustCompile(`;{2,}`)
)

// Sanitize converts arbitrary pasted cookie text into the canonical
// "key=value; key=value" form. Idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	s := newlineRun.ReplaceAllString(raw, "; ")
	s = spaceRun.ReplaceAllString(s, " ")
	s = semiRun.ReplaceAllString(s, ";")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ";")

	segments := strings.Split(s, ";")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		cleaned = append(cleaned, seg)
	}
	return strings.Join(cleaned, "; ")
}

// Parse splits a canonical cookie string into a name→value mapping. Each
// segment is split at the first "="; segments without a key are dropped, and
// values keep any "=" characters of their own.
func Parse(canonical string) map[string]string {
	out := make(map[string]string)
	for _, seg := range strings.Split(canonical, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name, value, found := strings.Cut(seg, "=")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// Value looks up a single token by exact name in a canonical cookie string.
func Value(canonical, name string) (string, bool) {
	v, ok := Parse(canonical)[name]
	return v, ok
}

// HasRequiredTokens reports whether every required session token appears,
// followed by "=", in the sanitized form of raw.
func HasRequiredTokens(raw string) bool {
	canonical := Sanitize(raw)
	for _, name := range RequiredTokens {
		if !strings.Contains(canonical, name+"=") {
			return false
		}
	}
	return true
}
