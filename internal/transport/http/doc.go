// Package http implements the control API: a small chi router over the
// authenticator and the single-flight gate.
//
// Every failure is rendered as an APIError. Authenticator errors are mapped
// by MapError, so a client can branch on error_code rather than on message
// text:
//
//	400 INVALID_LICENSE_KEY, VALIDATION_FAILED
//	401 LICENSE_REJECTED, SESSION_INVALID
//	403 HWID_MISMATCH, TOKEN_BANNED, NOT_AUTHENTICATED
//	404 NO_STORED_SESSION
//	409 GATE_BUSY
//	422 INVALID_DEVICE
//	429 RESET_COOLDOWN (details.remaining_seconds, Retry-After)
//	502 INIT_FAILED, NO_SESSION
//	503 NETWORK_ERROR
//	504 TIMEOUT
package http
