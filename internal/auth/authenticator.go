package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"licensecli/internal/device"
	"licensecli/internal/infrastructure"
	"licensecli/internal/protocol"
	"licensecli/internal/store"
	"licensecli/internal/token"
)

const (
	minKeyLength = 8
	maxKeyLength = 64

	DefaultWatchdog      = 12 * time.Second
	DefaultResetCooldown = 72 * time.Hour

	reasonHwidMismatch = "hwid_mismatch"
	reasonBanned       = "banned"
)

// User-facing success messages.
const (
	MsgLicenseVerified   = "License verified successfully"
	MsgAutoLogin         = "Auto-login successful"
	MsgAutoLoginSavedKey = "Auto-login via saved key successful"
)

// Protocol is the remote half of the authenticator.
type Protocol interface {
	Init(ctx context.Context) (protocol.InitResult, error)
	CheckSession(ctx context.Context, sessionID string) (protocol.SessionStatus, error)
	VerifyLicense(ctx context.Context, sessionID, licenseKey, hwid string) (protocol.LicenseOutcome, error)
}

// Identity supplies the device fingerprint.
type Identity interface {
	Fingerprint(ctx context.Context) (string, error)
	ClearCache()
}

// Result is a successful operation's outcome.
type Result struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Expiry    string `json:"expiry,omitempty"`
}

// Status is a point-in-time view for status reporting.
type Status struct {
	State           State     `json:"state"`
	Authenticated   bool      `json:"authenticated"`
	HasStoredAuth   bool      `json:"has_stored_auth"`
	SessionID       string    `json:"session_id,omitempty"`
	Expiry          string    `json:"expiry,omitempty"`
	LastValidatedAt time.Time `json:"last_validated_at,omitzero"`
}

// Authenticator owns the license session lifecycle.
type Authenticator struct {
	protocol Protocol
	identity Identity
	store    *store.CredentialStore
	tokens   token.Deriver

	sink    AuthStateSink
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time

	watchdog      time.Duration
	resetCooldown time.Duration

	mu      sync.RWMutex
	state   State
	current store.AuthRecord
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithSink sets the receiver of auth state transitions. nil keeps the no-op sink.
func WithSink(sink AuthStateSink) Option {
	return func(a *Authenticator) {
		if sink != nil {
			a.sink = sink
		}
	}
}

// WithMetrics records attempts and outcomes on m.
func WithMetrics(m *Metrics) Option { return func(a *Authenticator) { a.metrics = m } }

// WithTracer spans every synchronous operation.
func WithTracer(t trace.Tracer) Option { return func(a *Authenticator) { a.tracer = t } }

// WithLogger sets the logger, tagged with the auth component.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = infrastructure.WithComponent(l, "auth") }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(a *Authenticator) { a.now = now } }

// WithTokenDeriver sets the keyed hash used for device tokens.
func WithTokenDeriver(d token.Deriver) Option { return func(a *Authenticator) { a.tokens = d } }

// WithWatchdog bounds the async wrappers. Non-positive values are ignored.
func WithWatchdog(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.watchdog = d
		}
	}
}

// WithResetCooldown sets the minimum time between fingerprint resets.
func WithResetCooldown(d time.Duration) Option {
	return func(a *Authenticator) {
		if d >= 0 {
			a.resetCooldown = d
		}
	}
}

// New returns an Authenticator in the Unauthenticated state.
func New(proto Protocol, identity Identity, st *store.CredentialStore, opts ...Option) *Authenticator {
	a := &Authenticator{
		protocol:      proto,
		identity:      identity,
		store:         st,
		sink:          discardSink{},
		tracer:        tracenoop.NewTracerProvider().Tracer("auth"),
		logger:        infrastructure.WithComponent(nil, "auth"),
		now:           time.Now,
		watchdog:      DefaultWatchdog,
		resetCooldown: DefaultResetCooldown,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the current lifecycle state.
func (a *Authenticator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Authenticator) setAuthenticated(rec store.AuthRecord) {
	a.mu.Lock()
	a.state = StateAuthenticated
	a.current = rec
	a.mu.Unlock()
}

func (a *Authenticator) notify(ctx context.Context, rec store.AuthRecord, valid bool) {
	a.sink.OnAuthStateChanged(ctx, AuthState{
		SessionID:   rec.SessionID,
		Token:       rec.Token,
		Fingerprint: rec.Fingerprint,
		Valid:       valid,
	})
}

func (a *Authenticator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = infrastructure.EnsureTraceID(ctx)
	attrs = append(attrs, attribute.String("attempt_id", uuid.NewString()))
	return a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("auth.outcome", classifyError(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// VerifyLicense runs init and license for key and persists the session on
// success. A server rejection returns a *protocol.ProtocolError carrying
// the server's message and leaves persisted state untouched.
func (a *Authenticator) VerifyLicense(ctx context.Context, key string) (Result, error) {
	key = strings.TrimSpace(key)
	ctx, span := a.startSpan(ctx, "auth.verify_license",
		attribute.String("license.key_prefix", maskLicenseKey(key)))
	start := a.now()

	res, err := a.verifyLicense(ctx, key)

	a.metrics.recordVerify(ctx, a.now().Sub(start), err)
	endSpan(span, err)
	return res, err
}

func (a *Authenticator) verifyLicense(ctx context.Context, key string) (Result, error) {
	keyAttrs := []slog.Attr{
		slog.String("license_key", maskLicenseKey(key)),
		slog.String("license_key_hash", hashLicenseKey(key)),
	}
	if len(key) < minKeyLength || len(key) > maxKeyLength {
		a.logWarn(ctx, "verify", "License key rejected before contacting server", keyAttrs...)
		return Result{}, ErrInvalidLicenseKey
	}

	prev := a.State()
	a.setState(StateInitializing)

	initRes, err := a.protocol.Init(ctx)
	if err != nil {
		a.setState(prev)
		a.logWarn(ctx, "verify", "Session initialization failed", append(keyAttrs, errAttr(err))...)
		return Result{}, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	sid := initRes.SessionID

	fp, err := a.currentFingerprint(ctx)
	if err != nil {
		a.setState(prev)
		a.logWarn(ctx, "verify", "Device fingerprint unavailable", append(keyAttrs, errAttr(err))...)
		return Result{}, err
	}

	a.setState(StateAwaitingLicense)
	outcome, err := a.protocol.VerifyLicense(ctx, sid, key, fp)
	if err != nil {
		a.setState(prev)
		a.logWarn(ctx, "verify", "License call failed", append(keyAttrs, errAttr(err))...)
		return Result{}, err
	}

	if outcome.Banned {
		return Result{}, a.securityEvent(ctx, reasonBanned, ErrBannedToken, keyAttrs...)
	}

	if !outcome.Success {
		a.setState(StateInvalid)
		a.logInfo(ctx, "verify", "License rejected by server",
			append(keyAttrs, slog.String("server_message", outcome.Message))...)
		a.notify(ctx, store.AuthRecord{}, false)
		return Result{}, &protocol.ProtocolError{Op: protocol.TypeLicense, Message: outcome.Message}
	}

	now := a.now()
	rec := store.AuthRecord{
		SessionID:       sid,
		Fingerprint:     fp,
		Token:           a.tokens.Derive(sid, fp),
		Expiry:          outcome.Expiry,
		TokenStatus:     token.StatusUsed,
		LastValidatedAt: now,
		AuthTimestamp:   now,
	}
	if err := a.store.Save(ctx, rec); err != nil {
		a.logWarn(ctx, "verify", "Persisting session failed", errAttr(err))
	}
	if a.store.Preferences(ctx).RememberKey {
		if err := a.store.SetSavedLicenseKey(ctx, key); err != nil {
			a.logWarn(ctx, "verify", "Saving license key failed", errAttr(err))
		}
	}

	a.setAuthenticated(rec)
	a.logInfo(ctx, "verify", MsgLicenseVerified,
		append(keyAttrs,
			slog.String("session_id", truncateSessionID(sid)),
			slog.String("expiry", rec.Expiry))...)
	a.notify(ctx, rec, true)

	return Result{Message: MsgLicenseVerified, SessionID: sid, Expiry: rec.Expiry}, nil
}

// AutoLogin restores the stored session. Without one, it falls back to the
// saved license key when auto-login and remember-key are both enabled.
func (a *Authenticator) AutoLogin(ctx context.Context) (Result, error) {
	ctx, span := a.startSpan(ctx, "auth.auto_login")
	start := a.now()

	res, err := a.autoLogin(ctx)

	a.metrics.recordAutoLogin(ctx, a.now().Sub(start), err)
	endSpan(span, err)
	return res, err
}

func (a *Authenticator) autoLogin(ctx context.Context) (Result, error) {
	rec, ok := a.store.Load(ctx)
	if !ok {
		return a.autoLoginWithSavedKey(ctx)
	}
	sidAttr := slog.String("session_id", truncateSessionID(rec.SessionID))

	if rec.Banned {
		return Result{}, a.securityEvent(ctx, reasonBanned, ErrBannedToken, sidAttr)
	}

	prev := a.State()
	a.setState(StateInitializing)

	if _, err := a.protocol.Init(ctx); err != nil {
		a.setState(prev)
		a.logWarn(ctx, "autologin", "Session initialization failed", sidAttr, errAttr(err))
		return Result{}, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	status, err := a.protocol.CheckSession(ctx, rec.SessionID)
	if err != nil {
		a.setState(prev)
		a.logWarn(ctx, "autologin", "Session check failed", sidAttr, errAttr(err))
		return Result{}, err
	}
	if !status.Valid {
		a.logInfo(ctx, "autologin", "Stored session rejected by server",
			sidAttr, slog.String("server_message", status.Message))
		a.clear(ctx)
		return Result{}, &SessionInvalidError{Message: status.Message}
	}

	fp, err := a.identity.Fingerprint(ctx)
	if err != nil || device.Classify(fp) != device.Valid {
		return Result{}, a.securityEvent(ctx, reasonHwidMismatch, ErrHwidMismatch,
			sidAttr, slog.String("reason", "current fingerprint unusable"))
	}
	if rec.Fingerprint != "" && !strings.EqualFold(rec.Fingerprint, fp) {
		return Result{}, a.securityEvent(ctx, reasonHwidMismatch, ErrHwidMismatch, sidAttr)
	}

	if rec.TokenStatus != token.StatusUsed || !a.tokens.Matches(rec.Token, rec.SessionID, fp) {
		rec.Token = a.tokens.Derive(rec.SessionID, fp)
		rec.TokenStatus = token.StatusUsed
		a.logDebug(ctx, "autologin", "Regenerated device token", sidAttr)
	}

	now := a.now()
	rec.Fingerprint = fp
	rec.LastValidatedAt = now
	rec.AuthTimestamp = now
	if err := a.store.Save(ctx, rec); err != nil {
		a.logWarn(ctx, "autologin", "Persisting session failed", sidAttr, errAttr(err))
	}

	a.setAuthenticated(rec)
	a.logInfo(ctx, "autologin", MsgAutoLogin, sidAttr)
	a.notify(ctx, rec, true)

	return Result{Message: MsgAutoLogin, SessionID: rec.SessionID, Expiry: rec.Expiry}, nil
}

func (a *Authenticator) autoLoginWithSavedKey(ctx context.Context) (Result, error) {
	prefs := a.store.Preferences(ctx)
	if !prefs.AutoLoginEnabled || !prefs.RememberKey || prefs.SavedLicenseKey == "" {
		a.logDebug(ctx, "autologin", "No stored session")
		return Result{}, ErrNoStoredSession
	}

	a.logInfo(ctx, "autologin", "No stored session, trying saved license key",
		slog.String("license_key", maskLicenseKey(prefs.SavedLicenseKey)))
	res, err := a.verifyLicense(ctx, prefs.SavedLicenseKey)
	if err != nil {
		return Result{}, &SavedKeyError{Err: err}
	}
	res.Message = MsgAutoLoginSavedKey
	return res, nil
}

// currentFingerprint returns the device fingerprint or ErrInvalidDeviceID.
func (a *Authenticator) currentFingerprint(ctx context.Context) (string, error) {
	fp, err := a.identity.Fingerprint(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDeviceID, err)
	}
	if v := device.Classify(fp); v != device.Valid {
		return "", fmt.Errorf("%w: fingerprint is %s", ErrInvalidDeviceID, v)
	}
	return fp, nil
}

// securityEvent wipes stored auth and returns cause.
func (a *Authenticator) securityEvent(ctx context.Context, reason string, cause error, attrs ...slog.Attr) error {
	a.metrics.recordSecurityEvent(ctx, reason)
	a.logWarn(ctx, "security", "Security event, clearing stored authentication",
		append(attrs, slog.String("reason", reason))...)
	a.clear(ctx)
	a.setState(StateInvalid)
	return cause
}

// HasValidStoredAuth reports whether a session id is stored. It does not
// contact the server.
func (a *Authenticator) HasValidStoredAuth(ctx context.Context) bool {
	_, ok := a.store.Load(ctx)
	return ok
}

// ClearStoredAuth wipes the auth record from every tier and notifies the
// sink. Preferences and the device record are kept.
func (a *Authenticator) ClearStoredAuth(ctx context.Context) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	return a.clear(ctx)
}

func (a *Authenticator) clear(ctx context.Context) error {
	err := a.store.Clear(ctx)
	if err != nil {
		a.logWarn(ctx, "clear", "Clearing stored authentication failed", errAttr(err))
	}

	a.mu.Lock()
	a.current = store.AuthRecord{}
	a.state = StateUnauthenticated
	a.mu.Unlock()

	a.logInfo(ctx, "clear", "Stored authentication cleared")
	a.notify(ctx, store.AuthRecord{}, false)
	return err
}

// ResetDeviceFingerprint drops every cached fingerprint so the next
// operation probes the hardware again. It is limited to one reset per
// cooldown period.
func (a *Authenticator) ResetDeviceFingerprint(ctx context.Context) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	now := a.now()

	if last := a.store.Device(ctx).LastResetAt; !last.IsZero() {
		elapsed := max(now.Sub(last), 0)
		if elapsed < a.resetCooldown {
			err := &CooldownError{Remaining: a.resetCooldown - elapsed}
			a.logInfo(ctx, "reset", "Device reset refused during cooldown",
				slog.Int64("remaining_seconds", err.RemainingSeconds()))
			return err
		}
	}

	if err := a.store.ClearFingerprint(ctx); err != nil {
		return fmt.Errorf("clear cached fingerprint: %w", err)
	}
	if err := a.store.StampReset(ctx, now); err != nil {
		return fmt.Errorf("record reset time: %w", err)
	}
	a.identity.ClearCache()

	a.logInfo(ctx, "reset", "Device fingerprint cache reset")
	return nil
}

// QuickCheck asks the server whether the stored session is still valid
// without changing anything.
func (a *Authenticator) QuickCheck(ctx context.Context) (bool, error) {
	rec, ok := a.store.Load(ctx)
	if !ok {
		return false, ErrNoStoredSession
	}
	if _, err := a.protocol.Init(ctx); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	status, err := a.protocol.CheckSession(ctx, rec.SessionID)
	if err != nil {
		return false, err
	}
	return status.Valid, nil
}

// UserExpiration returns the expiry of the current or stored session.
func (a *Authenticator) UserExpiration(ctx context.Context) string {
	a.mu.RLock()
	exp := a.current.Expiry
	a.mu.RUnlock()
	if exp != "" {
		return exp
	}
	rec, _ := a.store.Load(ctx)
	return rec.Expiry
}

// Status reports the in-memory state merged with what is stored.
func (a *Authenticator) Status(ctx context.Context) Status {
	a.mu.RLock()
	st := Status{State: a.state, Authenticated: a.state == StateAuthenticated}
	cur := a.current
	a.mu.RUnlock()

	rec, stored := a.store.Load(ctx)
	st.HasStoredAuth = stored
	if cur.SessionID == "" {
		cur = rec
	}
	st.SessionID = truncateSessionID(cur.SessionID)
	st.Expiry = cur.Expiry
	st.LastValidatedAt = cur.LastValidatedAt
	return st
}

// Preferences returns the stored user preferences.
func (a *Authenticator) Preferences(ctx context.Context) store.Preferences {
	return a.store.Preferences(ctx)
}

func (a *Authenticator) RememberKey(ctx context.Context) bool {
	return a.store.Preferences(ctx).RememberKey
}

// SetRememberKey stores the flag. Turning it off also forgets the saved key.
func (a *Authenticator) SetRememberKey(ctx context.Context, v bool) error {
	if err := a.store.SetRememberKey(ctx, v); err != nil {
		return err
	}
	if !v {
		return a.store.SetSavedLicenseKey(ctx, "")
	}
	return nil
}

func (a *Authenticator) AutoLoginEnabled(ctx context.Context) bool {
	return a.store.Preferences(ctx).AutoLoginEnabled
}

func (a *Authenticator) SetAutoLoginEnabled(ctx context.Context, v bool) error {
	return a.store.SetAutoLogin(ctx, v)
}

func (a *Authenticator) SavedLicenseKey(ctx context.Context) string {
	return a.store.Preferences(ctx).SavedLicenseKey
}

// SetSavedLicenseKey stores key. An empty key removes the saved one.
func (a *Authenticator) SetSavedLicenseKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key != "" && (len(key) < minKeyLength || len(key) > maxKeyLength) {
		return ErrInvalidLicenseKey
	}
	return a.store.SetSavedLicenseKey(ctx, key)
}

// IsSecurityError reports whether err wiped stored authentication.
func IsSecurityError(err error) bool {
	return errors.Is(err, ErrHwidMismatch) || errors.Is(err, ErrBannedToken)
}
