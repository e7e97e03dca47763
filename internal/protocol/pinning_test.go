package protocol

import (
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinnedClient(t *testing.T, srv *httptest.Server, pins map[string][]string) *http.Client {
	t.Helper()
	tlsCfg := NewPinner(pins).TLSConfig("127.0.0.1")
	require.NotNil(t, tlsCfg)

	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	tlsCfg.RootCAs = pool

	return &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
}

func TestPinnerAcceptsMatchingPin(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pin := SPKIHash(srv.Certificate())
	client := pinnedClient(t, srv, map[string][]string{"127.0.0.1": {pin}})

	res, err := client.Get(srv.URL)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPinnerRejectsUnknownKey(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := pinnedClient(t, srv, map[string][]string{"127.0.0.1": {"00"}})

	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate pin verification failed")
}

func TestPinnerHostMatching(t *testing.T) {
	p := NewPinner(map[string][]string{
		"License.Example.com": {"AA"},
		"*.cdn.example.com":   {"bb"},
	})

	assert.Equal(t, []string{"aa"}, p.match("license.example.com"))
	assert.Equal(t, []string{"bb"}, p.match("edge.cdn.example.com"))
	assert.Nil(t, p.match("other.example.com"))
	assert.Nil(t, p.TLSConfig("other.example.com"))
}
