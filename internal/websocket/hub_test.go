package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestHub(t *testing.T, hub *Hub) *gorilla.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsInitialStateOnConnect(t *testing.T) {
	hub := NewHub(func() any {
		return map[string]string{"connection_id": "c1"}
	})
	go hub.Run()

	conn := dialTestHub(t, hub)

	msg := readMessage(t, conn)
	require.Equal(t, "snapshot", msg.Type)
	require.Equal(t, map[string]any{"connection_id": "c1"}, msg.Data)
}

func TestHubSkipsInitialStateWhenEmpty(t *testing.T) {
	hub := NewHub(func() any { return nil })
	go hub.Run()

	conn := dialTestHub(t, hub)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastSnapshot(map[string]string{"connection_id": "c2"})

	msg := readMessage(t, conn)
	require.Equal(t, "snapshot", msg.Type)
	require.Equal(t, map[string]any{"connection_id": "c2"}, msg.Data)
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	first := dialTestHub(t, hub)
	second := dialTestHub(t, hub)

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastStatus(map[string]string{"state": "idle-polling"})

	for _, conn := range []*gorilla.Conn{first, second} {
		msg := readMessage(t, conn)
		require.Equal(t, "status", msg.Type)
	}
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	conn := dialTestHub(t, hub)
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
