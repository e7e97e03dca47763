// Package auth runs the license session lifecycle on top of the protocol
// client, the credential store and the device identity.
//
// An Authenticator verifies license keys, restores stored sessions on
// startup (auto-login), enforces the device lock, and reports every
// authentication state transition to an injected AuthStateSink. The core
// operations are synchronous and take a context.Context; VerifyLicenseAsync
// and AutoLoginAsync wrap them with a watchdog that delivers exactly one
// callback outcome.
//
// Key behaviors:
//   - A rejected license key leaves persisted state untouched.
//   - A device mismatch or a banned token is a security event: stored
//     authentication is wiped before the error is returned.
//   - A stored token that is missing or not marked USED is regenerated
//     silently during auto-login.
//   - Fingerprint resets are rate limited by a cooldown.
//
// The authenticator does not serialize concurrent calls; callers that need
// single-flight behaviour use the gate package.
package auth
