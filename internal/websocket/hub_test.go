package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecli/internal/auth"
)

func dial(t *testing.T, hub *Hub) *gorilla.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestHubDeliversAuthState(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	conn := dial(t, hub)
	hello := readMessage(t, conn)
	assert.Equal(t, TypeConnection, hello.Type)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	var sink auth.AuthStateSink = hub
	sink.OnAuthStateChanged(context.Background(), auth.AuthState{
		SessionID:   "0123456789abcdef",
		Token:       "super-secret-token",
		Fingerprint: "ffffffffffffffffffffffffffffffff",
		Valid:       true,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")

	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypeAuthState, msg.Type)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, "01234567...", data["session_id"])
}

func TestHubBroadcastReachesEveryClient(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	t.Cleanup(hub.Stop)

	a := dial(t, hub)
	b := dial(t, hub)
	readMessage(t, a)
	readMessage(t, b)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(context.Background(), TypeGateStatus, map[string]any{"active": true})

	assert.Equal(t, TypeGateStatus, readMessage(t, a).Type)
	assert.Equal(t, TypeGateStatus, readMessage(t, b).Type)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()

	conn := dial(t, hub)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Stop()
	assert.Zero(t, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// broadcasting after stop must not block
	hub.Broadcast(context.Background(), TypeGateStatus, nil)
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://127.0.0.1:8088", true},
		{"https://127.0.0.1:8088", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8088/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, sameOrigin(r), tt.origin)
	}
}
