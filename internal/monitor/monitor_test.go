package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NewComer00/TalkyTalky/internal/actor"
	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/logging"
	"github.com/NewComer00/TalkyTalky/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *actor.StateFlag, *bus.EventBus, *prometheus.Registry, *httptest.Server) {
	t.Helper()
	flag := actor.NewStateFlag(actor.Idle)
	b := bus.NewEventBus()
	reg := prometheus.NewRegistry()
	s := NewServer(flag, b, reg, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, flag, b, reg, ts
}

func stateChanged(from, to actor.State) bus.Event {
	return bus.NewEvent(bus.EventTypeActorStateChanged, map[string]any{
		"from": from.String(),
		"to":   to.String(),
		"text": "hello",
	})
}

func TestHealthz(t *testing.T) {
	_, _, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func getLogs(t *testing.T, url string) (int, []logging.LogEntry) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []logging.LogEntry
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	}
	return resp.StatusCode, entries
}

func TestLogs(t *testing.T) {
	l, err := logging.New(&logging.Config{NoConsole: true, Capability: "action"})
	require.NoError(t, err)
	log := l.Component("actor")
	log.Info().Str("text", "hello").Msg("Speaking")
	log.Warn().Msg("Synthesis unavailable")

	s, _, _, _, ts := newTestServer(t)
	s.WithLogs(l)

	code, entries := getLogs(t, ts.URL+"/logs")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, entries, 2)
	assert.Equal(t, "Speaking", entries[0].Message)
	assert.Equal(t, "actor", entries[0].Component)
	assert.Equal(t, "text=hello", entries[0].Data)

	code, entries = getLogs(t, ts.URL+"/logs?limit=1")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, entries, 1)
	assert.Equal(t, "warn", entries[0].Level)

	code, _ = getLogs(t, ts.URL+"/logs?limit=many")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLogs_NoSource(t *testing.T) {
	_, _, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func TestState(t *testing.T) {
	_, flag, _, _, ts := newTestServer(t)

	get := func() StateResponse {
		resp, err := http.Get(ts.URL + "/state")
		require.NoError(t, err)
		defer resp.Body.Close()
		var sr StateResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&sr))
		return sr
	}

	assert.Equal(t, StateResponse{State: "idle"}, get())
	flag.Store(actor.Speaking)
	assert.Equal(t, StateResponse{State: "speaking", Speaking: true}, get())
}

func TestMetrics(t *testing.T) {
	_, _, _, reg, ts := newTestServer(t)
	m := metrics.New(reg)
	m.FrameSent("idle")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `talkytalky_frames_sent_total{state="idle"} 1`)
}

func TestWebSocket_SnapshotThenChanges(t *testing.T) {
	_, _, b, _, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap StateEvent
	require.NoError(t, ws.ReadJSON(&snap))
	assert.Equal(t, TypeSnapshot, snap.Type)
	assert.Equal(t, "idle", snap.To)

	b.PublishSync(stateChanged(actor.Idle, actor.Speaking))
	b.PublishSync(stateChanged(actor.Speaking, actor.Idle))

	var ev StateEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, TypeStateChanged, ev.Type)
	assert.Equal(t, "idle", ev.From)
	assert.Equal(t, "speaking", ev.To)
	assert.Equal(t, "hello", ev.Text)

	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "idle", ev.To)
}

func TestWebSocket_CloseEndsStream(t *testing.T) {
	s, _, _, _, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap StateEvent
	require.NoError(t, ws.ReadJSON(&snap))

	s.Close()
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWatcher(t *testing.T) {
	_, _, b, _, ts := newTestServer(t)

	events := make(chan StateEvent, 8)
	w, err := NewWatcher(ts.URL, func(ev StateEvent) { events <- ev }, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(w.URL(), "/ws"))
	assert.True(t, strings.HasPrefix(w.URL(), "ws://"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case ev := <-events:
		assert.Equal(t, TypeSnapshot, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot")
	}
	assert.True(t, w.IsConnected())

	b.PublishSync(stateChanged(actor.Idle, actor.Speaking))
	select {
	case ev := <-events:
		assert.Equal(t, "speaking", ev.To)
	case <-time.After(5 * time.Second):
		t.Fatal("no state change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080/ws"},
		{in: "http://host:1", want: "ws://host:1/ws"},
		{in: "https://host", want: "wss://host/ws"},
		{in: "ws://host/custom", want: "ws://host/custom"},
		{in: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := wsURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	s := NewServer(nil, nil, prometheus.NewRegistry(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
