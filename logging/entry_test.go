package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)

func TestNewEntry_Minimal(t *testing.T) {
	entry := NewEntry(INFO, "started", testNow)

	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "started", entry.Message)
	assert.Equal(t, "2024-01-15T10:30:00.123Z", entry.Timestamp)

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ts":"2024-01-15T10:30:00.123Z","level":"INFO","msg":"started"}`, string(data))
}

func TestNewEntry_TimestampIsUTC(t *testing.T) {
	local := time.Date(2024, 1, 15, 12, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	entry := NewEntry(INFO, "x", local)
	assert.Equal(t, "2024-01-15T10:30:00.000Z", entry.Timestamp)
}

func TestNewEntry_AllDetails(t *testing.T) {
	entry := NewEntry(ERROR, "request failed", testNow,
		WithCode("E_UPSTREAM"),
		WithHTTP(HTTPInfo{Method: "GET", URL: "https://api.example.com/v1", Status: 502, LatencyMS: 12.5}),
		WithContext(ContextInfo{Module: "billing", Model: "gpt", KeyMask: "sk-...abcd"}),
		WithTrace(TraceInfo{TraceID: "t1", SpanID: "s1", ParentID: "p1"}),
		WithStack("goroutine 1"),
		WithField("attempt", 2),
	)

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ts":"2024-01-15T10:30:00.123Z",
		"level":"ERROR",
		"msg":"request failed",
		"code":"E_UPSTREAM",
		"http":{"method":"GET","url":"https://api.example.com/v1","status":502,"latencyMs":12.5},
		"ctx":{"module":"billing","model":"gpt","keyMask":"sk-...abcd"},
		"trace":{"traceId":"t1","spanId":"s1","parentId":"p1"},
		"stack":"goroutine 1",
		"payload":{"attempt":2}
	}`, string(data))

	var decoded Entry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, entry, decoded)
}

func TestNewEntry_NumericCode(t *testing.T) {
	entry := NewEntry(WARN, "x", testNow, WithNumericCode(429))
	require.NotNil(t, entry.Code)
	assert.Equal(t, "429", entry.Code.String())
}

func TestNewEntry_SuppliedTimestampWins(t *testing.T) {
	supplied := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	entry := NewEntry(INFO, "x", testNow, WithTimestamp(supplied))
	assert.Equal(t, "2020-05-01T00:00:00.000Z", entry.Timestamp)

	parsed, err := entry.Time()
	require.NoError(t, err)
	assert.True(t, parsed.Equal(supplied))
}

func TestNewEntry_FieldsMergeIntoPayload(t *testing.T) {
	entry := NewEntry(INFO, "x", testNow,
		WithPayload(map[string]any{"a": 1}),
		WithField("b", "two"),
	)
	assert.JSONEq(t, `{"a":1,"b":"two"}`, entry.Payload.String())

	entry = NewEntry(INFO, "x", testNow, WithPayload("scalar"), WithField("k", true))
	assert.JSONEq(t, `{"k":true}`, entry.Payload.String())
}

func TestWithCaller(t *testing.T) {
	entry := NewEntry(INFO, "x", testNow,
		WithContext(ContextInfo{Model: "m"}),
		WithCaller(0),
	)

	require.NotNil(t, entry.Context)
	assert.Equal(t, "entry_test.go", entry.Context.File)
	assert.Equal(t, "TestWithCaller", entry.Context.Func)
	assert.Equal(t, "logging", entry.Context.Module)
	assert.Equal(t, "m", entry.Context.Model)
	assert.Greater(t, entry.Context.Line, 0)
}

func TestEntry_CloneSharesNothing(t *testing.T) {
	original := NewEntry(INFO, "x", testNow,
		WithHTTP(HTTPInfo{Method: "GET"}),
		WithContext(ContextInfo{Module: "a"}),
		WithTrace(TraceInfo{TraceID: "t"}),
		WithField("k", "v"),
	)

	clone := original.Clone()
	clone.HTTP.Method = "POST"
	clone.Context.Module = "b"
	clone.Trace.TraceID = "u"
	replaced := String("other")
	clone.Payload = &replaced

	assert.Equal(t, "GET", original.HTTP.Method)
	assert.Equal(t, "a", original.Context.Module)
	assert.Equal(t, "t", original.Trace.TraceID)
	assert.JSONEq(t, `{"k":"v"}`, original.Payload.String())
}

func TestSplitFuncName(t *testing.T) {
	tests := []struct {
		in         string
		pkg, rest string
	}{
		{"github.com/auditmos/blackbox/logging.TestX", "logging", "TestX"},
		{"github.com/auditmos/blackbox/logging.(*Dispatcher).Flush", "logging", "(*Dispatcher).Flush"},
		{"main.main", "main", "main"},
		{"noDot", "", "noDot"},
	}

	for _, tt := range tests {
		pkg, rest := splitFuncName(tt.in)
		assert.Equal(t, tt.pkg, pkg, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}
