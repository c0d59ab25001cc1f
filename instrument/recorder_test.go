package instrument

import (
	"sync"
	"time"

	"github.com/auditmos/blackbox/logging"
)

var recordTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	entries []logging.Entry
	min     logging.Level
}

func (r *recorder) log(level logging.Level, msg string, details []logging.Detail) {
	e := logging.NewEntry(level, msg, recordTime, details...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) Debug(msg string, d ...logging.Detail) { r.log(logging.DEBUG, msg, d) }
func (r *recorder) Info(msg string, d ...logging.Detail)  { r.log(logging.INFO, msg, d) }
func (r *recorder) Warn(msg string, d ...logging.Detail)  { r.log(logging.WARN, msg, d) }
func (r *recorder) Error(msg string, d ...logging.Detail) { r.log(logging.ERROR, msg, d) }
func (r *recorder) Fatal(msg string, d ...logging.Detail) { r.log(logging.FATAL, msg, d) }

func (r *recorder) With(details ...logging.Detail) logging.Logger {
	return &boundRecorder{r: r, details: details}
}

func (r *recorder) Enabled(level logging.Level) bool { return level >= r.min }

func (r *recorder) all() []logging.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logging.Entry(nil), r.entries...)
}

type boundRecorder struct {
	r       *recorder
	details []logging.Detail
}

func (b *boundRecorder) merge(d []logging.Detail) []logging.Detail {
	return append(append([]logging.Detail(nil), b.details...), d...)
}

func (b *boundRecorder) Debug(msg string, d ...logging.Detail) { b.r.log(logging.DEBUG, msg, b.merge(d)) }
func (b *boundRecorder) Info(msg string, d ...logging.Detail)  { b.r.log(logging.INFO, msg, b.merge(d)) }
func (b *boundRecorder) Warn(msg string, d ...logging.Detail)  { b.r.log(logging.WARN, msg, b.merge(d)) }
func (b *boundRecorder) Error(msg string, d ...logging.Detail) { b.r.log(logging.ERROR, msg, b.merge(d)) }
func (b *boundRecorder) Fatal(msg string, d ...logging.Detail) { b.r.log(logging.FATAL, msg, b.merge(d)) }

func (b *boundRecorder) With(details ...logging.Detail) logging.Logger {
	return &boundRecorder{r: b.r, details: b.merge(details)}
}

func payloadField(t interface{ Helper() }, e logging.Entry, key string) (logging.Value, bool) {
	t.Helper()
	if e.Payload == nil {
		return logging.Value{}, false
	}
	return e.Payload.Get(key)
}
