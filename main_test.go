package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-server/config"
	"chatrelay-server/hub"
	"chatrelay-server/protocol"
	"chatrelay-server/storage"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.AllowedOrigins = []string{"*"}

	rooms := hub.New(ctx, storage.NewMemory(), time.Second)
	srv := httptest.NewServer(newRouter(cfg, rooms, protocol.NewHandler(rooms, time.Second)))
	t.Cleanup(srv.Close)
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, room, pk string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/parties/main/" + room + "?_pk=" + pk
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestChatRelay_EndToEnd(t *testing.T) {
	srv := setupTestServer(t)

	alice := dialRoom(t, srv, "lobby", "alice")
	snap := readEvent(t, alice)
	require.Equal(t, "messages", snap["type"])
	assert.Len(t, snap["messages"], 1)

	bob := dialRoom(t, srv, "lobby", "bob")
	snap = readEvent(t, bob)
	require.Equal(t, "messages", snap["type"])
	assert.Len(t, snap["messages"], 2)

	join := readEvent(t, alice)
	assert.Equal(t, "join", join["type"])
	assert.Equal(t, "bob", join["username"])

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat","message":"hello","username":"alice","timestamp":"1999-01-01T00:00:00Z"}`)))

	chat := readEvent(t, bob)
	assert.Equal(t, "chat", chat["type"])
	assert.Equal(t, "hello", chat["message"])
	assert.Equal(t, "alice", chat["username"])
	assert.NotEqual(t, "1999-01-01T00:00:00.000Z", chat["timestamp"])

	var stats map[string]int
	getJSON(t, srv.URL+"/stats", &stats)
	assert.Equal(t, map[string]int{"rooms": 1, "clients": 2}, stats)
}

func TestChatRelay_CommandReplyGoesToSender(t *testing.T) {
	srv := setupTestServer(t)

	alice := dialRoom(t, srv, "lobby", "alice")
	readEvent(t, alice)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chat","message":"!list","username":"alice"}`)))

	reply := readEvent(t, alice)
	assert.Equal(t, "system", reply["type"])
	assert.Equal(t, `Users: <span class="user" data-user="alice">alice</span>`, reply["message"])
}

func TestChatRelay_InvalidFrame(t *testing.T) {
	srv := setupTestServer(t)

	alice := dialRoom(t, srv, "lobby", "alice")
	readEvent(t, alice)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	reply := readEvent(t, alice)
	assert.Equal(t, "error", reply["type"])
	assert.Equal(t, protocol.InvalidMessageReply, reply["message"])
}

func TestHealthHandler(t *testing.T) {
	srv := setupTestServer(t)

	var body map[string]string
	getJSON(t, srv.URL+"/health", &body)

	assert.Equal(t, "ok", body["status"])
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "partysocket key", query: "?_pk=abc", want: "abc"},
		{name: "id fallback", query: "?id=xyz", want: "xyz"},
		{name: "pk wins", query: "?_pk=abc&id=xyz", want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/parties/main/lobby"+tt.query, nil)
			assert.Equal(t, tt.want, clientID(r))
		})
	}

	t.Run("generated when absent", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/parties/main/lobby", nil)
		a, b := clientID(r), clientID(r)
		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})
}
