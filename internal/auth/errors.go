package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidLicenseKey = errors.New("license key must be between 8 and 64 characters")
	ErrInitFailed        = errors.New("session initialization failed")
	ErrInvalidDeviceID   = errors.New("device fingerprint is invalid")
	ErrHwidMismatch      = errors.New("device fingerprint does not match the stored session")
	ErrBannedToken       = errors.New("license token is banned")
	ErrNoStoredSession   = errors.New("no stored session")
)

// TimeoutMessage is delivered to async callers when the watchdog fires.
const TimeoutMessage = "Authentication timeout - please login"

// CooldownError is returned when a fingerprint reset is attempted too soon.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("device reset available in %d seconds", e.RemainingSeconds())
}

// RemainingSeconds rounds up so that a caller never retries early.
func (e *CooldownError) RemainingSeconds() int64 {
	return int64(math.Ceil(e.Remaining.Seconds()))
}

// SessionInvalidError means the server rejected the stored session.
type SessionInvalidError struct {
	Message string
}

func (e *SessionInvalidError) Error() string {
	return "Stored session is invalid or expired: " + e.Message
}

// SavedKeyError wraps a failed auto-login that fell back to the saved key.
type SavedKeyError struct {
	Err error
}

func (e *SavedKeyError) Error() string {
	return "Auto-login via saved key failed: " + e.Err.Error()
}

func (e *SavedKeyError) Unwrap() error { return e.Err }
