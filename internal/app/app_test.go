package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"licensecli/internal/config"
	"licensecli/internal/device"
	"licensecli/internal/protocol"
	"licensecli/internal/store"
	"licensecli/internal/testutil"
	"licensecli/internal/token"
)

type ApplicationSuite struct {
	suite.Suite
	ctx    context.Context
	server *testutil.LicenseServer
	dir    string
	cfg    *config.Config
	app    *Application
	router http.Handler
}

func TestApplicationSuite(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}

func (s *ApplicationSuite) SetupTest() {
	s.ctx = context.Background()
	s.server = testutil.NewLicenseServer(s.T())
	s.dir = s.T().TempDir()

	cfg := config.Default()
	cfg.Protocol.Endpoint = s.server.URL
	cfg.Protocol.AppName = "demo"
	cfg.Protocol.OwnerID = "owner"
	cfg.Protocol.AppHash = "hash"
	cfg.Protocol.TokenKey = "test-key"
	cfg.Protocol.CallTimeout = 2 * time.Second
	cfg.Storage.PrimaryFile = filepath.Join(s.dir, "auth.json")
	cfg.Storage.BackupFiles = []string{filepath.Join(s.dir, "auth.bak.json")}
	cfg.Server.RateLimit.Enabled = false
	s.cfg = cfg

	_, logger := testutil.NewLogCapture(s.T())
	a, err := New(s.ctx, cfg, logger,
		WithProbe(device.StaticProbe{"aa:bb:cc:dd:ee:ff", "workstation", "cpu-model"}))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = a.Close(context.Background()) })
	s.app = a
	s.router = a.Router()
}

func (s *ApplicationSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ApplicationSuite) body(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *ApplicationSuite) TestVerifySucceedsAndPersistsToEveryTier() {
	s.server.OnJSON(protocol.TypeInit, `{"success":true,"sessionid":"sess123"}`)
	s.server.OnJSON(protocol.TypeLicense, `{"success":true,"expiry":"2099-01-01 00:00:00"}`)

	rec := s.do(http.MethodPost, "/api/auth/verify", `{"license_key":"ABCD-1234-EFGH-5678"}`)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	body := s.body(rec)
	s.Equal(true, body["success"])
	s.Equal("2099-01-01 00:00:00", body["expiration"])

	for _, path := range []string{s.cfg.Storage.PrimaryFile, s.cfg.Storage.BackupFiles[0]} {
		sid, ok, err := store.NewFileTier("check", path, nil).Get(s.ctx, store.FieldSessionID)
		s.Require().NoError(err)
		s.True(ok, path)
		s.Equal("sess123", sid)
	}

	status := s.body(s.do(http.MethodGet, "/api/auth/status", ""))
	s.Equal(true, status["authenticated"])
	s.Equal(true, status["has_stored_auth"])

	rec = s.do(http.MethodPost, "/api/gate/start", `{"source":"ui","target":"export"}`)
	s.Equal(http.StatusOK, rec.Code)

	metrics := s.do(http.MethodGet, "/metrics", "")
	s.Equal(http.StatusOK, metrics.Code)
	s.Contains(metrics.Body.String(), "auth_verify_success")
}

func (s *ApplicationSuite) TestRejectedKeyPersistsNothing() {
	s.server.OnJSON(protocol.TypeInit, `{"success":true,"sessionid":"sess456"}`)
	s.server.OnJSON(protocol.TypeLicense, `{"success":false,"message":"invalid key"}`)

	rec := s.do(http.MethodPost, "/api/auth/verify", `{"license_key":"WRONG-KEY-0000"}`)
	s.Equal(http.StatusUnauthorized, rec.Code)
	body := s.body(rec)
	s.Equal("LICENSE_REJECTED", body["error_code"])
	s.Equal("invalid key", body["message"])

	_, stored := s.app.Store.Load(s.ctx)
	s.False(stored)
	_, present, err := store.NewFileTier("check", s.cfg.Storage.BackupFiles[0], nil).Get(s.ctx, store.FieldSessionID)
	s.Require().NoError(err)
	s.False(present)

	rec = s.do(http.MethodPost, "/api/gate/start", `{"source":"ui","target":"export"}`)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *ApplicationSuite) TestFingerprintMismatchWipesRecord() {
	stored := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAA111"
	current := "BBBBBBBBBBBBBBBBBBBBBBBBBBBBB222"
	deriver := token.NewDeriver("test-key")
	s.Require().NoError(s.app.Store.Save(s.ctx, store.AuthRecord{
		SessionID:   "sess789",
		Fingerprint: stored,
		Token:       deriver.Derive("sess789", stored),
		Expiry:      "2099-01-01 00:00:00",
		TokenStatus: token.StatusUsed,
	}))
	s.Require().NoError(s.app.Store.CacheFingerprint(s.ctx, current))

	s.server.OnJSON(protocol.TypeInit, `{"success":true,"sessionid":"sess789"}`)
	s.server.OnJSON(protocol.TypeCheck, `{"success":true}`)

	rec := s.do(http.MethodPost, "/api/auth/autologin", "")
	s.Equal(http.StatusForbidden, rec.Code)
	s.Equal("HWID_MISMATCH", s.body(rec)["error_code"])

	_, ok := s.app.Store.Load(s.ctx)
	s.False(ok)
}

func (s *ApplicationSuite) TestDeviceResetCooldownOverHTTP() {
	rec := s.do(http.MethodPost, "/api/auth/device/reset", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/auth/device/reset", "")
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
	details := s.body(rec)["details"].(map[string]any)
	s.InDelta(s.cfg.Auth.ResetCooldown.Seconds(), details["remaining_seconds"], 5)
}

func TestBuildStoreMigratesLegacyFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	legacy := filepath.Join(dir, "legacy.json")
	require.NoError(t, os.WriteFile(legacy,
		[]byte(`{"license_key":"ABCD-1234-EFGH","remember_key":"true","auto_login":"1"}`), 0o600))

	_, logger := testutil.NewLogCapture(t)
	st, rdb, err := BuildStore(ctx, config.StorageConfig{
		PrimaryFile: filepath.Join(dir, "auth.json"),
		LegacyFile:  legacy,
	}, logger)
	require.NoError(t, err)
	assert.Nil(t, rdb)

	prefs := st.Preferences(ctx)
	assert.True(t, prefs.RememberKey)
	assert.True(t, prefs.AutoLoginEnabled)
	assert.Equal(t, "ABCD-1234-EFGH", prefs.SavedLicenseKey)
}

func TestBuildStoreWithRedisAndSealing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	_, logger := testutil.NewLogCapture(t)
	cfg := config.StorageConfig{
		PrimaryFile: filepath.Join(dir, "auth.json"),
		Passphrase:  "correct horse battery staple",
		RedisURL:    "redis://" + mr.Addr(),
		RedisKey:    "licensecli:test",
	}
	st, rdb, err := BuildStore(ctx, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	tiers := st.Tiers()
	require.Len(t, tiers, 2)
	assert.Equal(t, "redis", tiers[1].Name())

	require.NoError(t, st.SetSavedLicenseKey(ctx, "ABCD-1234-EFGH"))

	raw, err := os.ReadFile(cfg.PrimaryFile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "ABCD-1234-EFGH")
	assert.Equal(t, "ABCD-1234-EFGH", mr.HGet("licensecli:test", store.FieldSavedKey))
}
