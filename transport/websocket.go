package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auditmos/blackbox/logging"
)

// Ack is the collector's reply to every websocket batch.
type Ack struct {
	OK    bool   `json:"ok"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// RejectedError is returned when the collector acks a batch with ok=false.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return "collector rejected batch"
	}
	return "collector rejected batch: " + e.Reason
}

func (e *RejectedError) Type() string {
	return "rejected"
}

type WebSocketConfig struct {
	URL        string
	APIToken   string
	InstanceID string
	Encoding   logging.Encoding
	Dialer     *websocket.Dialer
	Console    *logging.Console
}

// WebSocket keeps one connection to the collector and sends each batch as
// a single message, waiting for its ack. A broken connection is dropped
// and redialed on the next delivery; the failed batch is not retried.
type WebSocket struct {
	url      string
	header   http.Header
	encoding logging.Encoding
	dialer   *websocket.Dialer
	console  *logging.Console

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWebSocket(cfg WebSocketConfig) (*WebSocket, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse collector url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("collector url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("collector url %q: missing host", cfg.URL)
	}

	header := http.Header{}
	if cfg.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.APIToken)
	}
	if cfg.InstanceID != "" {
		header.Set("X-Instance-ID", cfg.InstanceID)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = logging.EncodingJSON
	}

	return &WebSocket{
		url:      cfg.URL,
		header:   header,
		encoding: encoding,
		dialer:   dialer,
		console:  cfg.Console,
	}, nil
}

func (w *WebSocket) Deliver(ctx context.Context, batch logging.Batch) error {
	data, err := logging.EncodeBatch(batch, w.encoding)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if w.encoding == logging.EncodingCBOR {
		msgType = websocket.BinaryMessage
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return logging.ErrClosed
	}

	conn, err := w.connLocked(ctx)
	if err != nil {
		return err
	}

	// A failed write may still have reached the collector, so the batch
	// is never resent here; the next delivery dials a fresh connection.
	if err := w.writeLocked(ctx, conn, msgType, data); err != nil {
		return err
	}

	return w.readAckLocked(ctx, conn)
}

func (w *WebSocket) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &logging.StatusError{StatusCode: resp.StatusCode}
		}
		return nil, logging.WrapErrorWithType("websocket dial", err, "network_error")
	}
	w.conn = conn
	w.console.Debug("Websocket connected", logging.WithField("url", w.url))
	return conn, nil
}

func (w *WebSocket) writeLocked(ctx context.Context, conn *websocket.Conn, msgType int, data []byte) error {
	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(msgType, data); err != nil {
		w.dropLocked()
		return logging.WrapErrorWithType("websocket write", err, "network_error")
	}
	return nil
}

func (w *WebSocket) readAckLocked(ctx context.Context, conn *websocket.Conn) error {
	deadline, _ := ctx.Deadline()
	conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var ack Ack
	if err := conn.ReadJSON(&ack); err != nil {
		w.dropLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return logging.WrapError("websocket ack", ctxErr)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return logging.WrapError("websocket ack", context.DeadlineExceeded)
		}
		return logging.WrapErrorWithType("websocket ack", err, "network_error")
	}
	if !ack.OK {
		return &RejectedError{Reason: ack.Error}
	}
	return nil
}

func (w *WebSocket) dropLocked() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Connected reports whether a connection is currently open.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	w.dropLocked()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
