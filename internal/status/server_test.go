package status

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/ringswap/internal/metrics"
	"github.com/nmxmxh/ringswap/internal/swap"
)

var _ swap.EventSink = (*Hub)(nil)

func newTestServer(t *testing.T) (*Server, *Hub, *metrics.SwapMetrics, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewSwapMetrics(reg)
	hub := NewHub(nil)
	status := func() any {
		return map[string]any{"location": 0.25, "locked": false}
	}
	s := NewServer("127.0.0.1:0", status, reg, hub, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return s, hub, m, ts
}

func TestServer_Status(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 0.25, body["location"])

	resp, err = http.Post(ts.URL+"/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	_, _, m, ts := newTestServer(t)
	m.Swaps.Inc()
	m.Relayed.WithLabelValues("SwapRequest").Inc()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.Contains(text, "ringswap_swap_swaps_total 1"), text)
	assert.Contains(t, text, `type="SwapRequest"`)
}

func TestServer_Healthz(t *testing.T) {
	_, _, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_EventFeed(t *testing.T) {
	_, hub, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(swap.Event{Role: "initiator", UID: 42, Outcome: "swapped", OldLocation: 0.1, NewLocation: 0.9})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev swap.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "initiator", ev.Role)
	assert.Equal(t, uint64(42), ev.UID)
	assert.Equal(t, 0.9, ev.NewLocation)

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(nil)
	c := &client{events: make(chan swap.Event, 1)}
	hub.clients[c] = struct{}{}

	hub.Publish(swap.Event{UID: 1})
	hub.Publish(swap.Event{UID: 2})
	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Equal(t, uint64(1), (<-c.events).UID)
}

func TestServer_StartShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer("127.0.0.1:0", func() any { return "ok" }, reg, nil, nil)
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
