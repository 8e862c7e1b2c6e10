package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/otpkit/otpkit/actor"
	"github.com/otpkit/otpkit/pubsub"
)

type fixture struct {
	rt  *actor.Runtime
	ps  *pubsub.PubSub
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := actor.NewWithConfig(actor.Config{Logger: logger})
	ps := pubsub.New(pubsub.WithLogger(logger))

	bridge := New(ps, rt)
	mux := http.NewServeMux()
	mux.Handle("/subscribe", bridge.HandleSubscribe())
	mux.HandleFunc("/stats", bridge.HandleStats())
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		ps.Close()
		_ = rt.Shutdown(2 * time.Second)
	})
	return &fixture{rt: rt, ps: ps, srv: srv}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/subscribe?" + query
	ws, err := websocket.Dial(url, "", f.srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) pubsub.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg pubsub.Message
	require.NoError(t, websocket.JSON.Receive(ws, &msg))
	return msg
}

func waitSubscribed(t *testing.T, ps *pubsub.PubSub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ps.SubscriberCount() >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_TopicSubscription(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "topic=room.lobby")
	waitSubscribed(t, f.ps, 1)

	n := f.ps.Publish("room.lobby", "chat", []byte(`"hello"`), "alice")
	require.Equal(t, 1, n)

	msg := readMessage(t, ws)
	assert.Equal(t, "room.lobby", msg.Topic)
	assert.Equal(t, "chat", msg.Event)
	assert.Equal(t, `"hello"`, string(msg.Payload))
	assert.Equal(t, "alice", msg.From)
}

func TestServer_PatternSubscription(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "pattern=room.**")
	waitSubscribed(t, f.ps, 1)

	f.ps.Publish("room.lobby", "chat", nil, "alice")
	f.ps.Publish("lobby.room", "chat", nil, "alice") // no match

	msg := readMessage(t, ws)
	assert.Equal(t, "room.lobby", msg.Topic)
}

func TestServer_ClientPublishRoundTrip(t *testing.T) {
	f := newFixture(t)
	receiver := f.dial(t, "topic=chat")
	sender := f.dial(t, "topic=quiet")
	waitSubscribed(t, f.ps, 2)

	require.NoError(t, websocket.JSON.Send(sender, map[string]any{
		"topic":   "chat",
		"event":   "line",
		"payload": json.RawMessage(`"hi there"`),
	}))

	msg := readMessage(t, receiver)
	assert.Equal(t, "chat", msg.Topic)
	assert.Equal(t, "line", msg.Event)
	assert.Equal(t, `"hi there"`, string(msg.Payload))
}

func TestServer_RejectsMissingTopicAndPattern(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "")

	// The handler closes the connection without attaching a subscription.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg pubsub.Message
	err := websocket.JSON.Receive(ws, &msg)
	assert.Error(t, err)
	assert.Equal(t, 0, f.ps.SubscriberCount())
}

func TestServer_SubscriptionCancelledOnDisconnect(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "topic=t")
	waitSubscribed(t, f.ps, 1)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return f.ps.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Stats(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.Spawn(actor.BehaviorFunc(func(*actor.Context, actor.Message) ([]byte, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats actor.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, int64(1), stats.Spawned)
}

func TestServer_StatsWithoutRuntime(t *testing.T) {
	ps := pubsub.New(pubsub.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer ps.Close()
	bridge := New(ps, nil)

	rec := httptest.NewRecorder()
	bridge.HandleStats()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
