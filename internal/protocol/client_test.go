package protocol

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"licensecli/internal/config"
	"licensecli/internal/testutil"
)

type ClientTestSuite struct {
	suite.Suite
	server *testutil.LicenseServer
	client *Client
	cfg    config.ProtocolConfig
}

func (s *ClientTestSuite) SetupTest() {
	s.server = testutil.NewLicenseServer(s.T())
	s.cfg = config.ProtocolConfig{
		Endpoint:       s.server.URL + "/api/1.3/",
		AppName:        "demo",
		OwnerID:        "owner-1",
		Version:        "1.0",
		AppHash:        "hash-1",
		UserAgent:      "licensecli-test/1.0",
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		CallTimeout:    2 * time.Second,
	}
	var err error
	s.client, err = NewClient(s.cfg)
	s.Require().NoError(err)
}

func (s *ClientTestSuite) TestInitSendsCredentials() {
	s.server.OnJSON(TypeInit, `{"success":true,"sessionid":"sess123"}`)

	res, err := s.client.Init(context.Background())
	s.Require().NoError(err)
	s.Equal("sess123", res.SessionID)

	reqs := s.server.Requests(TypeInit)
	s.Require().Len(reqs, 1)
	s.Equal("demo", reqs[0].Get("name"))
	s.Equal("owner-1", reqs[0].Get("ownerid"))
	s.Equal("1.0", reqs[0].Get("ver"))
	s.Equal("hash-1", reqs[0].Get("hash"))
	s.Equal("licensecli-test/1.0", reqs[0].Get("_user_agent"))
}

func (s *ClientTestSuite) TestInitWithoutSessionIsNotAnError() {
	s.server.OnJSON(TypeInit, `{"success":true,"message":"Initialized"}`)

	res, err := s.client.Init(context.Background())
	s.NoError(err)
	s.Empty(res.SessionID)
}

func (s *ClientTestSuite) TestInitFailureCarriesServerMessage() {
	s.server.OnJSON(TypeInit, `{"success":false,"message":"application disabled"}`)

	_, err := s.client.Init(context.Background())
	var perr *ProtocolError
	s.Require().ErrorAs(err, &perr)
	s.Equal("application disabled", perr.Message)
	s.Equal(TypeInit, perr.Op)
}

func (s *ClientTestSuite) TestNon2xxIsNetworkError() {
	s.server.On(TypeInit, testutil.Reply{Status: http.StatusBadGateway, Body: "upstream down"})

	_, err := s.client.Init(context.Background())
	var nerr *NetworkError
	s.Require().ErrorAs(err, &nerr)
	s.Equal(http.StatusBadGateway, nerr.StatusCode)
	s.Equal("upstream down", nerr.Body)
	s.Equal("network error: HTTP 502 - upstream down", err.Error())
	s.Equal(1, s.server.Count(TypeInit), "no retries")
}

func (s *ClientTestSuite) TestCheckSession() {
	s.server.OnJSON(TypeCheck, `{"success":true}`)
	s.server.OnJSON(TypeCheck, `{"success":false,"message":"session expired"}`)

	status, err := s.client.CheckSession(context.Background(), "sess123")
	s.Require().NoError(err)
	s.True(status.Valid)

	status, err = s.client.CheckSession(context.Background(), "sess123")
	s.Require().NoError(err)
	s.False(status.Valid)
	s.Equal("session expired", status.Message)

	reqs := s.server.Requests(TypeCheck)
	s.Require().Len(reqs, 2)
	s.Equal("sess123", reqs[0].Get("sessionid"))
	s.Equal("hash-1", reqs[0].Get("hash"))
}

func (s *ClientTestSuite) TestVerifyLicenseRequiresSession() {
	_, err := s.client.VerifyLicense(context.Background(), "", "TEST-KEY", "abc")
	s.ErrorIs(err, ErrNoSession)
	s.Zero(s.server.Count(TypeLicense))
}

func (s *ClientTestSuite) TestVerifyLicenseSuccess() {
	s.server.OnJSON(TypeLicense, `{"success":true,"expiry":"2099-01-01 00:00:00"}`)

	outcome, err := s.client.VerifyLicense(context.Background(), "sess123", "TEST-KEY-1234", "0123456789abcdef0123456789abcdef")
	s.Require().NoError(err)
	s.True(outcome.Success)
	s.Equal("2099-01-01 00:00:00", outcome.Expiry)

	reqs := s.server.Requests(TypeLicense)
	s.Require().Len(reqs, 1)
	s.Equal("TEST-KEY-1234", reqs[0].Get("key"))
	s.Equal("0123456789abcdef0123456789abcdef", reqs[0].Get("hwid"))
	s.Equal("sess123", reqs[0].Get("sessionid"))
	s.False(reqs[0].Has("hash"), "license call does not carry the app hash")
}

func (s *ClientTestSuite) TestVerifyLicenseFailure() {
	s.server.OnJSON(TypeLicense, `{"success":false,"message":"invalid key","banned":true}`)

	outcome, err := s.client.VerifyLicense(context.Background(), "sess456", "BAD-KEY-000", "abc")
	s.Require().NoError(err)
	s.False(outcome.Success)
	s.True(outcome.Banned)
	s.Equal("invalid key", outcome.Message)
}

func (s *ClientTestSuite) TestCallTimeout() {
	s.cfg.CallTimeout = 100 * time.Millisecond
	client, err := NewClient(s.cfg)
	s.Require().NoError(err)
	s.server.On(TypeInit, testutil.Reply{Body: `{"success":true}`, Delay: time.Second})

	start := time.Now()
	_, err = client.Init(context.Background())
	var nerr *NetworkError
	s.Require().ErrorAs(err, &nerr)
	s.Zero(nerr.StatusCode)
	s.Less(time.Since(start), 900*time.Millisecond)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient(config.ProtocolConfig{Endpoint: "::not a url"})
	assert.Error(t, err)
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	client, err := NewClient(config.ProtocolConfig{
		Endpoint:       "http://127.0.0.1:1/",
		ConnectTimeout: 200 * time.Millisecond,
		ReadTimeout:    200 * time.Millisecond,
		CallTimeout:    500 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = client.Init(context.Background())
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.NotNil(t, nerr.Unwrap())
}
