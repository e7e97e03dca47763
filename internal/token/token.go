// Package token derives the device-bound token that proves a session was
// bound to this device. The token never leaves the process or the local
// store.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Status values persisted alongside a token.
const (
	StatusUnused = "UNUSED"
	StatusUsed   = "USED"
)

// Deriver computes tokens. The zero value hashes without a key.
type Deriver struct {
	key []byte
}

// NewDeriver returns a Deriver keyed with key. An empty key yields plain
// sha256(sessionID ":" fingerprint).
func NewDeriver(key string) Deriver {
	if key == "" {
		return Deriver{}
	}
	return Deriver{key: []byte(key)}
}

// Derive is a pure function of its inputs.
func (d Deriver) Derive(sessionID, fingerprint string) string {
	msg := []byte(sessionID + ":" + fingerprint)
	if len(d.key) == 0 {
		sum := sha256.Sum256(msg)
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, d.key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a stored token against a fresh derivation in constant time.
func (d Deriver) Matches(stored, sessionID, fingerprint string) bool {
	if stored == "" {
		return false
	}
	return hmac.Equal([]byte(stored), []byte(d.Derive(sessionID, fingerprint)))
}
