package logging

import "time"

// TimeFormat is the wire layout of Entry.Timestamp: ISO-8601 in UTC
// with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

type HTTPInfo struct {
	Method    string  `json:"method,omitempty"`
	URL       string  `json:"url,omitempty"`
	Status    int     `json:"status,omitempty"`
	LatencyMS float64 `json:"latencyMs,omitempty"`
}

type ContextInfo struct {
	Module  string `json:"module,omitempty"`
	File    string `json:"file,omitempty"`
	Func    string `json:"func,omitempty"`
	Line    int    `json:"line,omitempty"`
	Model   string `json:"model,omitempty"`
	KeyMask string `json:"keyMask,omitempty"`
}

type TraceInfo struct {
	TraceID  string `json:"traceId,omitempty"`
	SpanID   string `json:"spanId,omitempty"`
	ParentID string `json:"parentId,omitempty"`
}

type Entry struct {
	Timestamp string       `json:"ts"`
	Level     Level        `json:"level"`
	Message   string       `json:"msg"`
	Code      *Value       `json:"code,omitempty"`
	HTTP      *HTTPInfo    `json:"http,omitempty"`
	Context   *ContextInfo `json:"ctx,omitempty"`
	Trace     *TraceInfo   `json:"trace,omitempty"`
	Stack     string       `json:"stack,omitempty"`
	Payload   *Value       `json:"payload,omitempty"`
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NewEntry builds an entry from the base fields and applies details in
// order. Timestamp is taken from now unless a detail already set it.
func NewEntry(level Level, message string, now time.Time, details ...Detail) Entry {
	entry := Entry{
		Level:   level,
		Message: message,
	}
	for _, detail := range details {
		if detail != nil {
			detail(&entry)
		}
	}
	if entry.Timestamp == "" {
		entry.Timestamp = FormatTimestamp(now)
	}
	return entry
}

// Time parses the entry timestamp. Entries whose timestamp was supplied
// in another layout fall back to RFC 3339.
func (e Entry) Time() (time.Time, error) {
	t, err := time.Parse(TimeFormat, e.Timestamp)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

func (e Entry) Clone() Entry {
	out := e
	if e.Code != nil {
		code := *e.Code
		out.Code = &code
	}
	if e.HTTP != nil {
		info := *e.HTTP
		out.HTTP = &info
	}
	if e.Context != nil {
		info := *e.Context
		out.Context = &info
	}
	if e.Trace != nil {
		info := *e.Trace
		out.Trace = &info
	}
	if e.Payload != nil {
		payload := *e.Payload
		out.Payload = &payload
	}
	return out
}

// Field returns the payload value stored under key, if the payload is an
// object holding it.
func (e Entry) Field(key string) (Value, bool) {
	if e.Payload == nil {
		return Value{}, false
	}
	return e.Payload.Get(key)
}
