package instrument

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/logging"
)

func TestLevelFromSlog(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want logging.Level
	}{
		{slog.LevelDebug, logging.DEBUG},
		{slog.LevelInfo, logging.INFO},
		{slog.LevelInfo + 2, logging.INFO},
		{slog.LevelWarn, logging.WARN},
		{slog.LevelError, logging.ERROR},
		{slog.LevelError + 4, logging.FATAL},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LevelFromSlog(tt.in))
		})
	}
}

func TestSlogHandlerForwardsRecords(t *testing.T) {
	rec := &recorder{}
	log := slog.New(NewSlogHandler(rec, slog.LevelDebug))

	log.Warn("disk almost full", "free", 12, "mount", "/data")

	entries := rec.all()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, logging.WARN, e.Level)
	assert.Equal(t, "disk almost full", e.Message)

	free, ok := payloadField(t, e, "free")
	require.True(t, ok)
	assert.Equal(t, 12.0, free.Float())
	mount, ok := payloadField(t, e, "mount")
	require.True(t, ok)
	assert.Equal(t, "/data", mount.Text())

	require.NotNil(t, e.Context)
	assert.Equal(t, "slog_test.go", e.Context.File)
	assert.Equal(t, "instrument", e.Context.Module)
	assert.NotZero(t, e.Context.Line)
}

func TestSlogHandlerGroups(t *testing.T) {
	rec := &recorder{}
	log := slog.New(NewSlogHandler(rec, nil)).
		With("service", "api").
		WithGroup("req").
		With("method", "GET")

	log.Info("handled", "status", 200)

	entries := rec.all()
	require.Len(t, entries, 1)
	payload := entries[0].Payload.Interface()
	assert.Equal(t, map[string]any{
		"service": "api",
		"req": map[string]any{
			"method": "GET",
			"status": 200.0,
		},
	}, payload)
}

func TestSlogHandlerEmptyGroupDropped(t *testing.T) {
	rec := &recorder{}
	log := slog.New(NewSlogHandler(rec, nil)).WithGroup("unused")

	log.Info("plain")

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Payload)
}

func TestSlogHandlerEnabled(t *testing.T) {
	rec := &recorder{min: logging.WARN}
	log := slog.New(NewSlogHandler(rec, slog.LevelDebug))

	log.Info("dropped by logger level")
	log.Error("kept")

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
}

func TestSlogHandlerStampsWithLoggerTime(t *testing.T) {
	rec := &recorder{}
	h := NewSlogHandler(rec, nil)

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	r := slog.NewRecord(at, slog.LevelInfo, "timed", 0)
	require.NoError(t, h.Handle(t.Context(), r))

	entries := rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, logging.FormatTimestamp(recordTime), entries[0].Timestamp)
	assert.Nil(t, entries[0].Context)
}
