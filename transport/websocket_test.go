package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/logging"
)

type wsCollector struct {
	server *httptest.Server

	mu       sync.Mutex
	batches  []logging.Batch
	types    []int
	headers  []http.Header
	dials    int
	ack      Ack
	noAck    bool
	closeOne bool

	closeAfterAck bool
}

func newWSCollector(t *testing.T) *wsCollector {
	t.Helper()
	c := &wsCollector{ack: Ack{OK: true}}
	upgrader := websocket.Upgrader{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c.mu.Lock()
		c.dials++
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			enc := logging.EncodingJSON
			if msgType == websocket.BinaryMessage {
				enc = logging.EncodingCBOR
			}
			batch, err := logging.DecodeBatch(data, enc)
			if err != nil {
				conn.WriteJSON(Ack{OK: false, Error: err.Error()})
				continue
			}

			c.mu.Lock()
			c.batches = append(c.batches, batch)
			c.types = append(c.types, msgType)
			ack, noAck, closeOne, closeAfterAck := c.ack, c.noAck, c.closeOne, c.closeAfterAck
			c.closeOne = false
			c.closeAfterAck = false
			c.mu.Unlock()

			if closeOne {
				return
			}
			if noAck {
				continue
			}
			conn.WriteJSON(ack)
			if closeAfterAck {
				return
			}
		}
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *wsCollector) url() string {
	return "ws" + strings.TrimPrefix(c.server.URL, "http")
}

func (c *wsCollector) snapshot() ([]logging.Batch, []int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logging.Batch(nil), c.batches...), append([]int(nil), c.types...), c.dials
}

func wsBatch(msgs ...string) logging.Batch {
	var entries []logging.Entry
	for _, m := range msgs {
		entries = append(entries, logging.NewEntry(logging.INFO, m, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	}
	return logging.Batch{ProjectID: "p1", Entries: entries}
}

func newTestWebSocket(t *testing.T, cfg WebSocketConfig) *WebSocket {
	t.Helper()
	ws, err := NewWebSocket(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWebSocket_DeliverReusesConnection(t *testing.T) {
	c := newWSCollector(t)
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url(), APIToken: "secret", InstanceID: "inst-1"})

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("a")))
	require.NoError(t, ws.Deliver(context.Background(), wsBatch("b", "c")))
	assert.True(t, ws.Connected())

	batches, types, dials := c.snapshot()
	require.Len(t, batches, 2)
	assert.Equal(t, "p1", batches[0].ProjectID)
	assert.Len(t, batches[1].Entries, 2)
	assert.Equal(t, []int{websocket.TextMessage, websocket.TextMessage}, types)
	assert.Equal(t, 1, dials)

	c.mu.Lock()
	assert.Equal(t, "Bearer secret", c.headers[0].Get("Authorization"))
	assert.Equal(t, "inst-1", c.headers[0].Get("X-Instance-ID"))
	c.mu.Unlock()
}

func TestWebSocket_CBORUsesBinaryMessages(t *testing.T) {
	c := newWSCollector(t)
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url(), Encoding: logging.EncodingCBOR})

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("a")))

	batches, types, _ := c.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "a", batches[0].Entries[0].Message)
	assert.Equal(t, []int{websocket.BinaryMessage}, types)
}

func TestWebSocket_RejectedAck(t *testing.T) {
	c := newWSCollector(t)
	c.ack = Ack{OK: false, Error: "project mismatch"}
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url()})

	err := ws.Deliver(context.Background(), wsBatch("a"))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "project mismatch", rejected.Reason)
	assert.Equal(t, "rejected", logging.ErrorType(err))
	assert.True(t, ws.Connected())
}

func TestWebSocket_DialUnauthorized(t *testing.T) {
	c := newWSCollector(t)
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url(), APIToken: "bad"})

	err := ws.Deliver(context.Background(), wsBatch("a"))
	var status *logging.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
}

func TestWebSocket_RedialsAfterServerClose(t *testing.T) {
	c := newWSCollector(t)
	c.closeOne = true
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url()})

	err := ws.Deliver(context.Background(), wsBatch("lost"))
	require.Error(t, err)
	assert.False(t, ws.Connected())

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("next")))

	batches, _, dials := c.snapshot()
	assert.Equal(t, 2, dials)
	assert.Len(t, batches, 2)
}

func TestWebSocket_StaleConnectionFailsOnceWithoutResend(t *testing.T) {
	c := newWSCollector(t)
	c.closeAfterAck = true
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url()})

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("a")))

	err := ws.Deliver(context.Background(), wsBatch("b"))
	require.Error(t, err)
	assert.Equal(t, "network_error", logging.ErrorType(err))
	assert.False(t, ws.Connected())

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("c")))

	batches, _, dials := c.snapshot()
	require.Len(t, batches, 2)
	assert.Equal(t, "a", batches[0].Entries[0].Message)
	assert.Equal(t, "c", batches[1].Entries[0].Message)
	assert.Equal(t, 2, dials)
}

func TestWebSocket_AckTimeout(t *testing.T) {
	c := newWSCollector(t)
	c.noAck = true
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url()})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := ws.Deliver(ctx, wsBatch("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, ws.Connected())
}

func TestWebSocket_Closed(t *testing.T) {
	c := newWSCollector(t)
	ws := newTestWebSocket(t, WebSocketConfig{URL: c.url()})

	require.NoError(t, ws.Deliver(context.Background(), wsBatch("a")))
	require.NoError(t, ws.Close())

	assert.ErrorIs(t, ws.Deliver(context.Background(), wsBatch("b")), logging.ErrClosed)
}
