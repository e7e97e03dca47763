package store

import (
	"strconv"
	"strings"
	"time"
)

// Stored field names.
const (
	FieldSessionID     = "session_id"
	FieldFingerprint   = "hwid"
	FieldToken         = "auth_token"
	FieldExpiry        = "user_expiration"
	FieldTokenStatus   = "token_status"
	FieldTokenBanned   = "token_banned"
	FieldLastValidated = "token_last_validated"
	FieldAuthTimestamp = "auth_timestamp"

	FieldSavedKey    = "saved_license_key"
	FieldRememberKey = "remember_key"
	FieldAutoLogin   = "auto_login_enabled"

	FieldCachedFingerprint = "cached_hwid"
	FieldLastReset         = "hwid_last_reset"
)

// authFields are removed by Clear.
var authFields = []string{
	FieldSessionID,
	FieldFingerprint,
	FieldToken,
	FieldExpiry,
	FieldTokenStatus,
	FieldTokenBanned,
	FieldLastValidated,
	FieldAuthTimestamp,
}

// AuthRecord is the persisted result of a successful verification.
type AuthRecord struct {
	SessionID       string
	Fingerprint     string
	Token           string
	Expiry          string
	TokenStatus     string
	Banned          bool
	LastValidatedAt time.Time
	AuthTimestamp   time.Time
}

func (r AuthRecord) fields() map[string]string {
	return map[string]string{
		FieldSessionID:     r.SessionID,
		FieldFingerprint:   r.Fingerprint,
		FieldToken:         r.Token,
		FieldExpiry:        r.Expiry,
		FieldTokenStatus:   r.TokenStatus,
		FieldTokenBanned:   formatBool(r.Banned),
		FieldLastValidated: formatMillis(r.LastValidatedAt),
		FieldAuthTimestamp: formatMillis(r.AuthTimestamp),
	}
}

// Preferences are user choices that survive Clear.
type Preferences struct {
	RememberKey      bool
	SavedLicenseKey  string
	AutoLoginEnabled bool
}

// DeviceRecord holds the cached fingerprint and the last reset time.
type DeviceRecord struct {
	CachedFingerprint string
	LastResetAt       time.Time
}

func formatBool(b bool) string { return strconv.FormatBool(b) }

// parseBool accepts the forms older installs wrote.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
