package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/clock"
	"github.com/auditmos/blackbox/logging"
	"github.com/auditmos/blackbox/transport"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ingest/ws"
}

func TestIngestWS_TransportRoundTrip(t *testing.T) {
	tc := newTestCollector(t)
	srv := httptest.NewServer(tc.Handler())
	defer srv.Close()

	for _, enc := range []logging.Encoding{logging.EncodingJSON, logging.EncodingCBOR} {
		ws, err := transport.NewWebSocket(transport.WebSocketConfig{URL: wsURL(srv), APIToken: "secret-1", Encoding: enc})
		require.NoError(t, err)

		batch := logging.Batch{ProjectID: "p1", Entries: []logging.Entry{logging.NewEntry(logging.INFO, string(enc), testNow)}}
		require.NoError(t, ws.Deliver(context.Background(), batch))
		require.NoError(t, ws.Close())
	}

	n, err := tc.batches.CountEntries("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestWS_TokenQueryAndRejection(t *testing.T) {
	tc := newTestCollector(t)
	srv := httptest.NewServer(tc.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=secret-1", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"projectId":"p2","entries":[]}`)))
	var ack transport.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.OK)
	assert.Contains(t, ack.Error, "projectId")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.OK)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, batchJSON(t, "p1", "ok")))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.True(t, ack.OK)
	assert.NotEmpty(t, ack.Key)
}

func TestIngestWS_Unauthorized(t *testing.T) {
	tc := newTestCollector(t)
	srv := httptest.NewServer(tc.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestWS_StreamLimit(t *testing.T) {
	tc := newTestCollector(t)
	tc.limiter = NewRateLimiter(100, 1)
	srv := httptest.NewServer(tc.Handler())
	defer srv.Close()

	header := http.Header{"Authorization": []string{"Bearer secret-1"}}
	first, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEndToEnd_LoggerToCollector(t *testing.T) {
	tc := newTestCollector(t)
	srv := httptest.NewServer(tc.Handler())
	defer srv.Close()

	logger := logging.NewLogger(logging.LoggerConfig{
		Clock:        clock.Fake(testNow),
		Console:      logging.DiscardConsole(),
		NewTransport: transport.Factory(transport.Options{}),
	})
	logger.Init(logging.Config{
		ProjectID:    "p1",
		CollectorURL: srv.URL + "/ingest/logs",
		APIToken:     "secret-1",
		BatchSize:    2,
		Compression:  "gzip",
	})

	logger.Info("a")
	logger.Error("b", logging.WithError(errors.New("boom")))

	require.Eventually(t, func() bool {
		n, _ := tc.batches.CountEntries("p1")
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, logger.Close(context.Background()))
	assert.Equal(t, uint64(1), logger.Stats().BatchesDelivered)
}
