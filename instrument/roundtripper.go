// Package instrument feeds common runtime events into a logging.Logger:
// outgoing HTTP calls, panics, slog records and runtime statistics.
package instrument

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/auditmos/blackbox/logging"
)

const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

type roundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

// RoundTripper wraps base so every request is logged with its method,
// URL, status and latency. Trace ids are propagated through the
// X-Trace-ID and X-Span-ID headers; a missing trace id is generated.
func RoundTripper(base http.RoundTripper, logger logging.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &roundTripper{base: base, logger: logger}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	trace := logging.TraceInfo{
		TraceID:  req.Header.Get(HeaderTraceID),
		ParentID: req.Header.Get(HeaderSpanID),
		SpanID:   uuid.NewString(),
	}
	if trace.TraceID == "" {
		trace.TraceID = uuid.NewString()
	}

	out := req.Clone(req.Context())
	out.Header.Set(HeaderTraceID, trace.TraceID)
	out.Header.Set(HeaderSpanID, trace.SpanID)

	start := time.Now()
	resp, err := rt.base.RoundTrip(out)
	latency := float64(time.Since(start).Microseconds()) / 1000

	info := logging.HTTPInfo{
		Method:    req.Method,
		URL:       req.URL.String(),
		LatencyMS: latency,
	}
	if err != nil {
		rt.logger.Error("HTTP error",
			logging.WithHTTP(info),
			logging.WithTrace(trace),
			logging.WithField("error", err.Error()),
		)
		return resp, err
	}

	info.Status = resp.StatusCode
	rt.logger.Info("HTTP request", logging.WithHTTP(info), logging.WithTrace(trace))
	return resp, nil
}

// Client returns a copy of c (or a new client) whose transport is
// instrumented.
func Client(c *http.Client, logger logging.Logger) *http.Client {
	var out http.Client
	if c != nil {
		out = *c
	}
	out.Transport = RoundTripper(out.Transport, logger)
	return &out
}
