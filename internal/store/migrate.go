package store

import (
	"context"
	"log/slog"
)

// legacyFields maps the old schema onto the current one.
var legacyFields = []struct {
	legacy, current string
	boolean         bool
}{
	{"license_key", FieldSavedKey, false},
	{"remember_key", FieldRememberKey, true},
	{"auto_login", FieldAutoLogin, true},
	{"session_id", FieldSessionID, false},
	{"user_expiry", FieldExpiry, false},
	{"hwid", FieldFingerprint, false},
}

// Migrate copies values from a legacy tier into the current schema. A field
// already present in the current schema is never overwritten, so running
// Migrate again changes nothing. It returns the number of fields copied.
func (s *CredentialStore) Migrate(ctx context.Context, legacy Tier) (int, error) {
	values := make(map[string]string)
	for _, f := range legacyFields {
		if s.get(ctx, f.current) != "" {
			continue
		}
		v, ok, err := legacy.Get(ctx, f.legacy)
		if err != nil {
			return 0, err
		}
		if !ok || v == "" {
			continue
		}
		if f.boolean {
			v = formatBool(parseBool(v))
		}
		values[f.current] = v
	}

	if len(values) == 0 {
		return 0, nil
	}
	if err := s.set(ctx, values); err != nil {
		return 0, err
	}

	s.logger.InfoContext(ctx, "migrated legacy settings",
		slog.String("source", legacy.Name()),
		slog.Int("fields", len(values)))
	return len(values), nil
}
