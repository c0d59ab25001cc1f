package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/auditmos/blackbox/logging"
)

// JSONLRecord is one line of the collector mirror: a stored entry plus
// where it came from.
type JSONLRecord struct {
	ReceivedAt int64         `json:"receivedAt"`
	ProjectID  string        `json:"projectId"`
	BatchID    string        `json:"batchId"`
	Entry      logging.Entry `json:"entry"`
}

// BatchSink receives every batch the collector accepts.
type BatchSink interface {
	Write(stored *StoredBatch, batch logging.Batch) error
}

type JSONLWriter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: w, now: time.Now}
}

func (j *JSONLWriter) Write(stored *StoredBatch, batch logging.Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	receivedAt := j.now().UnixMilli()
	if stored != nil && stored.ReceivedAt != 0 {
		receivedAt = stored.ReceivedAt
	}
	batchID := ""
	if stored != nil {
		batchID = stored.ID
	}

	enc := json.NewEncoder(j.w)
	for _, entry := range batch.Entries {
		rec := JSONLRecord{ReceivedAt: receivedAt, ProjectID: batch.ProjectID, BatchID: batchID, Entry: entry}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write jsonl: %w", err)
		}
	}
	return nil
}

type MultiSink struct {
	sinks []BatchSink
}

func NewMultiSink(sinks ...BatchSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(stored *StoredBatch, batch logging.Batch) error {
	for _, s := range m.sinks {
		if err := s.Write(stored, batch); err != nil {
			return err
		}
	}
	return nil
}
