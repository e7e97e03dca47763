// Package store persists authentication state across process restarts.
//
// A CredentialStore reads through an ordered list of tiers. The first tier
// is the fast primary; the rest are durable backups. A value found only in
// a backup is written back into the primary on read. Writes go to every
// tier, and each record is written with a single SetMany call so that a
// tier never exposes half a record.
//
// Every tier stores flat string fields:
//
//	session_id, hwid, auth_token, user_expiration, token_status,
//	token_banned, token_last_validated, auth_timestamp       (auth record)
//	saved_license_key, remember_key, auto_login_enabled       (preferences)
//	cached_hwid, hwid_last_reset                              (device record)
//
// Timestamps are unix milliseconds and booleans are "true"/"false".
package store
