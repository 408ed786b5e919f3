package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/events"
	"scanbrain/internal/model"
)

func TestEventsURL(t *testing.T) {
	got, err := eventsURL("http://localhost:8080/", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/events/ws", got)

	got, err = eventsURL("https://brain.example/base", "quests")
	require.NoError(t, err)
	assert.Equal(t, "wss://brain.example/base/v1/events/ws?instance=quests", got)
}

func TestWatchCommandPrintsCompletions(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var gotInstance string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInstance = r.URL.Query().Get("instance")
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(watchMessage{Type: "connection_ack", Instance: "quests"})
		for _, id := range []string{"c1", "c2"} {
			c := events.Completion{ID: id, Instance: "quests", Kind: model.KindAutoQuest, CompletedAt: at}
			_ = conn.WriteJSON(watchMessage{Type: "completion", Instance: "quests", Completion: &c})
		}
		// Hold the connection until the client hangs up.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	out, err := run(t, "watch", "--addr", srv.URL, "--instance", "quests", "--count", "2")
	require.NoError(t, err)
	assert.Equal(t, "quests", gotInstance)
	assert.Contains(t, out, "watching quests")
	assert.Contains(t, out, "2024-05-01T12:00:00Z\tquests\tauto_quest\tc1")
	assert.Contains(t, out, "c2")
}

func TestWatchCommandDialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := run(t, "watch", "--addr", srv.URL)
	assert.Error(t, err)
}
