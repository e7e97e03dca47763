package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"licensecli/internal/testutil"
)

// brokenTier fails every operation.
type brokenTier struct{ name string }

var errBroken = errors.New("tier unavailable")

func (b brokenTier) Name() string { return b.name }
func (b brokenTier) Get(context.Context, string) (string, bool, error) {
	return "", false, errBroken
}
func (b brokenTier) SetMany(context.Context, map[string]string) error { return errBroken }
func (b brokenTier) Delete(context.Context, ...string) error         { return errBroken }

// frozenTier serves reads from an underlying tier but rejects writes.
type frozenTier struct{ *MemoryTier }

func (f frozenTier) SetMany(context.Context, map[string]string) error { return errBroken }
func (f frozenTier) Delete(context.Context, ...string) error         { return errBroken }

type StoreTestSuite struct {
	suite.Suite
	ctx     context.Context
	primary *MemoryTier
	backup  *FileTier
	store   *CredentialStore
	logs    *testutil.LogCapture
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.primary = NewMemoryTier("memory")
	s.backup = NewFileTier("file", filepath.Join(s.T().TempDir(), "auth.json"), nil)

	capture, logger := testutil.NewLogCapture(s.T())
	s.logs = capture
	s.store = New(logger, s.primary, s.backup)
}

func (s *StoreTestSuite) sampleRecord() AuthRecord {
	now := time.UnixMilli(1_700_000_000_000)
	return AuthRecord{
		SessionID:       "sess-123",
		Fingerprint:     "0123456789abcdef0123456789abcdef",
		Token:           "tok",
		Expiry:          "2099-01-01 00:00:00",
		TokenStatus:     "USED",
		LastValidatedAt: now,
		AuthTimestamp:   now,
	}
}

func (s *StoreTestSuite) TestSaveLoadRoundTrip() {
	rec := s.sampleRecord()
	s.Require().NoError(s.store.Save(s.ctx, rec))

	got, ok := s.store.Load(s.ctx)
	s.Require().True(ok)
	s.Equal(rec.SessionID, got.SessionID)
	s.Equal(rec.Fingerprint, got.Fingerprint)
	s.Equal(rec.Token, got.Token)
	s.Equal(rec.Expiry, got.Expiry)
	s.Equal(rec.TokenStatus, got.TokenStatus)
	s.False(got.Banned)
	s.True(rec.LastValidatedAt.Equal(got.LastValidatedAt))
	s.True(rec.AuthTimestamp.Equal(got.AuthTimestamp))
}

func (s *StoreTestSuite) TestSaveWritesEveryTier() {
	s.Require().NoError(s.store.Save(s.ctx, s.sampleRecord()))

	for _, tier := range s.store.Tiers() {
		v, ok, err := tier.Get(s.ctx, FieldSessionID)
		s.Require().NoError(err)
		s.True(ok, tier.Name())
		s.Equal("sess-123", v, tier.Name())
	}

	snap, err := s.backup.Snapshot(s.ctx)
	s.Require().NoError(err)
	s.Equal("USED", snap[FieldTokenStatus])
	s.Equal("false", snap[FieldTokenBanned])
	s.Equal("1700000000000", snap[FieldAuthTimestamp])
}

func (s *StoreTestSuite) TestLoadEmpty() {
	_, ok := s.store.Load(s.ctx)
	s.False(ok)
}

func (s *StoreTestSuite) TestFallbackWritesBackIntoPrimary() {
	s.Require().NoError(s.backup.SetMany(s.ctx, map[string]string{
		FieldSessionID: "from-backup",
		FieldExpiry:    "2099-01-01 00:00:00",
	}))

	rec, ok := s.store.Load(s.ctx)
	s.Require().True(ok)
	s.Equal("from-backup", rec.SessionID)

	v, ok, err := s.primary.Get(s.ctx, FieldSessionID)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("from-backup", v)
	v, _, err = s.primary.Get(s.ctx, FieldExpiry)
	s.Require().NoError(err)
	s.Equal("2099-01-01 00:00:00", v)
	s.True(s.logs.ContainsMessage("restored record from backup"))
}

func (s *StoreTestSuite) TestPrimaryWinsOverBackup() {
	s.Require().NoError(s.primary.SetMany(s.ctx, map[string]string{FieldSessionID: "primary"}))
	s.Require().NoError(s.backup.SetMany(s.ctx, map[string]string{FieldSessionID: "backup"}))

	rec, ok := s.store.Load(s.ctx)
	s.Require().True(ok)
	s.Equal("primary", rec.SessionID)
}

func (s *StoreTestSuite) TestClearKeepsPreferencesAndDevice() {
	s.Require().NoError(s.store.Save(s.ctx, s.sampleRecord()))
	s.Require().NoError(s.store.SavePreferences(s.ctx, Preferences{
		RememberKey:      true,
		SavedLicenseKey:  "KEY-1",
		AutoLoginEnabled: true,
	}))
	s.Require().NoError(s.store.CacheFingerprint(s.ctx, "cached"))

	s.Require().NoError(s.store.Clear(s.ctx))

	_, ok := s.store.Load(s.ctx)
	s.False(ok)
	for _, tier := range s.store.Tiers() {
		for _, f := range authFields {
			_, present, err := tier.Get(s.ctx, f)
			s.Require().NoError(err)
			s.False(present, "%s still holds %s", tier.Name(), f)
		}
	}

	prefs := s.store.Preferences(s.ctx)
	s.Equal(Preferences{RememberKey: true, SavedLicenseKey: "KEY-1", AutoLoginEnabled: true}, prefs)
	fp, ok := s.store.CachedFingerprint(s.ctx)
	s.True(ok)
	s.Equal("cached", fp)
}

func (s *StoreTestSuite) TestPreferenceSetters() {
	s.Equal(Preferences{}, s.store.Preferences(s.ctx))

	s.Require().NoError(s.store.SetRememberKey(s.ctx, true))
	s.Require().NoError(s.store.SetAutoLogin(s.ctx, true))
	s.Require().NoError(s.store.SetSavedLicenseKey(s.ctx, "KEY-2"))
	s.Equal(Preferences{RememberKey: true, SavedLicenseKey: "KEY-2", AutoLoginEnabled: true}, s.store.Preferences(s.ctx))

	s.Require().NoError(s.store.SetSavedLicenseKey(s.ctx, ""))
	s.Require().NoError(s.store.SetAutoLogin(s.ctx, false))
	s.Equal(Preferences{RememberKey: true}, s.store.Preferences(s.ctx))

	_, ok, err := s.backup.Get(s.ctx, FieldSavedKey)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreTestSuite) TestDeviceRecord() {
	s.Equal(DeviceRecord{}, s.store.Device(s.ctx))

	at := time.UnixMilli(1_700_000_123_456)
	s.Require().NoError(s.store.CacheFingerprint(s.ctx, "abc"))
	s.Require().NoError(s.store.StampReset(s.ctx, at))

	dev := s.store.Device(s.ctx)
	s.Equal("abc", dev.CachedFingerprint)
	s.True(at.Equal(dev.LastResetAt))

	s.Require().NoError(s.store.ClearFingerprint(s.ctx))
	_, ok := s.store.CachedFingerprint(s.ctx)
	s.False(ok)
	s.True(at.Equal(s.store.Device(s.ctx).LastResetAt))
}

func (s *StoreTestSuite) TestBackupFailureIsLoggedNotReturned() {
	st := New(s.store.logger, s.primary, brokenTier{name: "broken"})

	s.Require().NoError(st.Save(s.ctx, s.sampleRecord()))
	s.True(s.logs.ContainsMessage("tier write incomplete"))

	rec, ok := st.Load(s.ctx)
	s.Require().True(ok)
	s.Equal("sess-123", rec.SessionID)
}

func (s *StoreTestSuite) TestPrimaryFailureIsReturned() {
	st := New(s.store.logger, brokenTier{name: "broken"}, s.primary)

	err := st.Save(s.ctx, s.sampleRecord())
	s.Require().Error(err)
	s.ErrorIs(err, errBroken)

	v, ok, _ := s.primary.Get(s.ctx, FieldSessionID)
	s.True(ok)
	s.Equal("sess-123", v)

	rec, ok := st.Load(s.ctx)
	s.True(ok)
	s.Equal("sess-123", rec.SessionID)
}

func (s *StoreTestSuite) TestLoadNeverMixesRecords() {
	backing := NewMemoryTier("backup")
	st := New(s.store.logger, s.primary, frozenTier{backing})

	old := s.sampleRecord()
	old.SessionID = "old"
	old.Expiry = "2020-01-01 00:00:00"
	s.Require().NoError(s.primary.SetMany(s.ctx, old.fields()))
	s.Require().NoError(backing.SetMany(s.ctx, old.fields()))

	fresh := s.sampleRecord()
	fresh.SessionID = "new"
	fresh.Expiry = ""
	s.Require().NoError(st.Save(s.ctx, fresh))

	rec, ok := st.Load(s.ctx)
	s.Require().True(ok)
	s.Equal("new", rec.SessionID)
	s.Empty(rec.Expiry)

	v, _, err := s.primary.Get(s.ctx, FieldExpiry)
	s.Require().NoError(err)
	s.Empty(v)
}

func (s *StoreTestSuite) TestLoadTakesWholeRecordFromOneBackup() {
	second := NewMemoryTier("second")
	st := New(s.store.logger, s.primary, s.backup, second)

	s.Require().NoError(s.backup.SetMany(s.ctx, map[string]string{
		FieldSessionID: "sess-a",
		FieldToken:     "tok-a",
	}))
	s.Require().NoError(second.SetMany(s.ctx, map[string]string{
		FieldSessionID: "sess-b",
		FieldToken:     "tok-b",
		FieldExpiry:    "2030-01-01 00:00:00",
	}))

	rec, ok := st.Load(s.ctx)
	s.Require().True(ok)
	s.Equal("sess-a", rec.SessionID)
	s.Equal("tok-a", rec.Token)
	s.Empty(rec.Expiry)
}

func (s *StoreTestSuite) TestCachedFingerprintStaysInPrimary() {
	s.Require().NoError(s.store.CacheFingerprint(s.ctx, "0123456789abcdef0123456789abcdef"))

	_, present, err := s.backup.Get(s.ctx, FieldCachedFingerprint)
	s.Require().NoError(err)
	s.False(present)

	// A copied backup must not supply the fingerprint.
	st := New(s.store.logger, NewMemoryTier("fresh"), s.primary)
	_, ok := st.CachedFingerprint(s.ctx)
	s.False(ok)
	s.Empty(st.Device(s.ctx).CachedFingerprint)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
