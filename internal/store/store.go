package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"licensecli/internal/infrastructure"
)

// CredentialStore reads and writes auth state across ordered tiers.
type CredentialStore struct {
	primary Tier
	backups []Tier
	logger  *slog.Logger
}

// New returns a store over primary and backups. logger may be nil.
func New(logger *slog.Logger, primary Tier, backups ...Tier) *CredentialStore {
	return &CredentialStore{
		primary: primary,
		backups: backups,
		logger:  infrastructure.WithComponent(logger, "store"),
	}
}

// Tiers returns the primary followed by the backups.
func (s *CredentialStore) Tiers() []Tier {
	return append([]Tier{s.primary}, s.backups...)
}

// get returns the first non-empty value for key, writing it back into the
// primary when it came from a backup.
func (s *CredentialStore) get(ctx context.Context, key string) string {
	for i, tier := range s.Tiers() {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "tier read failed",
				slog.String("tier", tier.Name()),
				slog.String("field", key),
				slog.String("error", err.Error()))
			continue
		}
		if !ok || v == "" {
			continue
		}
		if i > 0 {
			if err := s.primary.SetMany(ctx, map[string]string{key: v}); err != nil {
				s.logger.WarnContext(ctx, "write-back to primary failed",
					slog.String("field", key),
					slog.String("source", tier.Name()),
					slog.String("error", err.Error()))
			} else {
				s.logger.DebugContext(ctx, "restored field from backup",
					slog.String("field", key),
					slog.String("source", tier.Name()))
			}
		}
		return v
	}
	return ""
}

// set writes values to the primary and then to every backup concurrently.
// Only a primary failure is returned; backup failures are logged.
func (s *CredentialStore) set(ctx context.Context, values map[string]string) error {
	return s.apply(ctx, "write", func(t Tier) error { return t.SetMany(ctx, values) })
}

func (s *CredentialStore) del(ctx context.Context, keys ...string) error {
	return s.apply(ctx, "delete", func(t Tier) error { return t.Delete(ctx, keys...) })
}

func (s *CredentialStore) apply(ctx context.Context, op string, fn func(Tier) error) error {
	var primaryErr error
	if err := fn(s.primary); err != nil {
		primaryErr = fmt.Errorf("%s %s: %w", op, s.primary.Name(), err)
	}

	var g errgroup.Group
	backupErrs := make([]error, len(s.backups))
	for i, tier := range s.backups {
		g.Go(func() error {
			if err := fn(tier); err != nil {
				backupErrs[i] = fmt.Errorf("%s %s: %w", op, tier.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(append(backupErrs, primaryErr)...); err != nil {
		s.logger.WarnContext(ctx, "tier "+op+" incomplete", slog.String("error", err.Error()))
	}
	return primaryErr
}

// Load returns the stored auth record; ok is false when no session is stored.
// The record is read whole from the first tier holding a session id, so
// fields from different writes are never mixed. A record found in a backup
// is written back into the primary.
func (s *CredentialStore) Load(ctx context.Context) (AuthRecord, bool) {
	for i, tier := range s.Tiers() {
		values, ok := s.readRecord(ctx, tier)
		if !ok {
			continue
		}
		rec := AuthRecord{
			SessionID:       values[FieldSessionID],
			Fingerprint:     values[FieldFingerprint],
			Token:           values[FieldToken],
			Expiry:          values[FieldExpiry],
			TokenStatus:     values[FieldTokenStatus],
			Banned:          parseBool(values[FieldTokenBanned]),
			LastValidatedAt: parseMillis(values[FieldLastValidated]),
			AuthTimestamp:   parseMillis(values[FieldAuthTimestamp]),
		}
		if i > 0 {
			if err := s.primary.SetMany(ctx, rec.fields()); err != nil {
				s.logger.WarnContext(ctx, "write-back to primary failed",
					slog.String("record", "auth"),
					slog.String("source", tier.Name()),
					slog.String("error", err.Error()))
			} else {
				s.logger.DebugContext(ctx, "restored record from backup",
					slog.String("record", "auth"),
					slog.String("source", tier.Name()))
			}
		}
		return rec, true
	}
	return AuthRecord{}, false
}

// readRecord returns every auth field held by tier, or false when the tier
// has no session id.
func (s *CredentialStore) readRecord(ctx context.Context, tier Tier) (map[string]string, bool) {
	values := make(map[string]string, len(authFields))
	for _, key := range authFields {
		v, ok, err := tier.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "tier read failed",
				slog.String("tier", tier.Name()),
				slog.String("field", key),
				slog.String("error", err.Error()))
			if key == FieldSessionID {
				return nil, false
			}
			continue
		}
		if key == FieldSessionID && (!ok || v == "") {
			return nil, false
		}
		if ok {
			values[key] = v
		}
	}
	return values, true
}

// Save writes rec to every tier as one record per tier.
func (s *CredentialStore) Save(ctx context.Context, rec AuthRecord) error {
	return s.set(ctx, rec.fields())
}

// Clear removes every auth field from every tier. Preferences and the
// device record are kept.
func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.del(ctx, authFields...)
}

// Preferences returns the stored user preferences.
func (s *CredentialStore) Preferences(ctx context.Context) Preferences {
	return Preferences{
		RememberKey:      parseBool(s.get(ctx, FieldRememberKey)),
		SavedLicenseKey:  s.get(ctx, FieldSavedKey),
		AutoLoginEnabled: parseBool(s.get(ctx, FieldAutoLogin)),
	}
}

// SavePreferences writes p. An empty saved key removes the stored one.
func (s *CredentialStore) SavePreferences(ctx context.Context, p Preferences) error {
	values := map[string]string{
		FieldRememberKey: formatBool(p.RememberKey),
		FieldAutoLogin:   formatBool(p.AutoLoginEnabled),
	}
	if p.SavedLicenseKey != "" {
		values[FieldSavedKey] = p.SavedLicenseKey
	}
	if err := s.set(ctx, values); err != nil {
		return err
	}
	if p.SavedLicenseKey == "" {
		return s.del(ctx, FieldSavedKey)
	}
	return nil
}

// SetRememberKey stores the remember-key flag.
func (s *CredentialStore) SetRememberKey(ctx context.Context, v bool) error {
	return s.set(ctx, map[string]string{FieldRememberKey: formatBool(v)})
}

// SetAutoLogin stores the auto-login flag.
func (s *CredentialStore) SetAutoLogin(ctx context.Context, v bool) error {
	return s.set(ctx, map[string]string{FieldAutoLogin: formatBool(v)})
}

// SetSavedLicenseKey stores key, or removes it when empty.
func (s *CredentialStore) SetSavedLicenseKey(ctx context.Context, key string) error {
	if key == "" {
		return s.del(ctx, FieldSavedKey)
	}
	return s.set(ctx, map[string]string{FieldSavedKey: key})
}

// Device returns the cached fingerprint and last reset time.
func (s *CredentialStore) Device(ctx context.Context) DeviceRecord {
	fp, _ := s.CachedFingerprint(ctx)
	return DeviceRecord{
		CachedFingerprint: fp,
		LastResetAt:       parseMillis(s.get(ctx, FieldLastReset)),
	}
}

// CachedFingerprint implements device.Cache. The fingerprint cache lives in
// the primary tier only; a backup restored on another device never supplies
// the current fingerprint.
func (s *CredentialStore) CachedFingerprint(ctx context.Context) (string, bool) {
	fp, ok, err := s.primary.Get(ctx, FieldCachedFingerprint)
	if err != nil {
		s.logger.WarnContext(ctx, "tier read failed",
			slog.String("tier", s.primary.Name()),
			slog.String("field", FieldCachedFingerprint),
			slog.String("error", err.Error()))
		return "", false
	}
	return fp, ok && fp != ""
}

// CacheFingerprint implements device.Cache. Only the primary is written.
func (s *CredentialStore) CacheFingerprint(ctx context.Context, fp string) error {
	if err := s.primary.SetMany(ctx, map[string]string{FieldCachedFingerprint: fp}); err != nil {
		return fmt.Errorf("write %s: %w", s.primary.Name(), err)
	}
	return nil
}

// ClearFingerprint removes the cached fingerprint from every tier,
// including copies written by older versions into backups.
func (s *CredentialStore) ClearFingerprint(ctx context.Context) error {
	return s.del(ctx, FieldCachedFingerprint)
}

// StampReset records t as the last fingerprint reset.
func (s *CredentialStore) StampReset(ctx context.Context, t time.Time) error {
	return s.set(ctx, map[string]string{FieldLastReset: formatMillis(t)})
}
