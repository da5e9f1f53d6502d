package domain

import "time"

// CredentialRecord is the persisted, encrypted form of the user's pasted
// session cookies. The plaintext only ever exists in memory.
type CredentialRecord struct {
	Ciphertext  []byte
	Nonce       []byte
	Salt        []byte
	Status      string
	SetAt       time.Time
	ValidatedAt *time.Time
}
