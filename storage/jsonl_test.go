package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/logging"
)

func TestJSONLWriter_Write(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)

	stored := &StoredBatch{ID: "B1", ProjectID: "p1", ReceivedAt: 42}
	batch := testBatch("p1", entryAt(logging.INFO, "a"), entryAt(logging.WARN, "b"))
	require.NoError(t, w.Write(stored, batch))

	var records []JSONLRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec JSONLRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "B1", records[0].BatchID)
	assert.Equal(t, int64(42), records[0].ReceivedAt)
	assert.Equal(t, "p1", records[1].ProjectID)
	assert.Equal(t, "b", records[1].Entry.Message)
	assert.Equal(t, logging.WARN, records[1].Entry.Level)
}

type failingSink struct{ err error }

func (f failingSink) Write(*StoredBatch, logging.Batch) error { return f.err }

func TestMultiSink(t *testing.T) {
	var a, b bytes.Buffer
	sink := NewMultiSink(NewJSONLWriter(&a), NewJSONLWriter(&b))

	require.NoError(t, sink.Write(&StoredBatch{ID: "B1"}, testBatch("p1", entryAt(logging.INFO, "x"))))
	assert.Equal(t, a.String(), b.String())
	assert.NotEmpty(t, a.String())

	boom := errors.New("disk full")
	failing := NewMultiSink(failingSink{err: boom}, NewJSONLWriter(&a))
	assert.ErrorIs(t, failing.Write(nil, testBatch("p1")), boom)
}
