package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoPolymarket/reqlog/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, hub *Hub, category string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("category"))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?category=" + category
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubDeliversMatchingCategory(t *testing.T) {
	hub := NewHub(8)
	conn := dial(t, hub, "request")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(&model.StoredRequestLog{Category: "audit", Record: json.RawMessage(`{"n":1}`)})
	hub.Publish(&model.StoredRequestLog{Category: "request", Record: json.RawMessage(`{"n":2}`)})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got model.StoredRequestLog
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "request", got.Category)
	assert.JSONEq(t, `{"n":2}`, string(got.Record))
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(8)
	conn := dial(t, hub, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	hub := NewHub(8)
	conn := dial(t, hub, "")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(0)
	assert.NotPanics(t, func() {
		hub.Publish(nil)
		hub.Publish(&model.StoredRequestLog{Category: "request", Record: json.RawMessage(`{}`)})
	})
}
