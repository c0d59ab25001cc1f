package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditmos/blackbox/clock"
)

type Logger interface {
	Debug(msg string, details ...Detail)
	Info(msg string, details ...Detail)
	Warn(msg string, details ...Detail)
	Error(msg string, details ...Detail)
	Fatal(msg string, details ...Detail)
	With(details ...Detail) Logger
}

// TransportFactory builds the transport for a configuration that has
// a collector URL.
type TransportFactory func(s Settings, instanceID string) (Transport, error)

// HTTPTransportFactory is the default factory: a plain HTTP POST per
// batch.
func HTTPTransportFactory(s Settings, instanceID string) (Transport, error) {
	return NewHTTPTransport(HTTPTransportConfig{
		URL:         s.CollectorURL,
		APIToken:    s.APIToken,
		InstanceID:  instanceID,
		Encoding:    s.Encoding,
		Compression: s.Compression,
	})
}

type LoggerConfig struct {
	Clock          clock.Clock
	Console        *Console
	NewTransport   TransportFactory
	InstanceID     string
	MemoryCapacity int
}

// StandardLogger is the ingestion facade. It does nothing until Init is
// called with a configuration.
type StandardLogger struct {
	clock        clock.Clock
	console      *Console
	newTransport TransportFactory
	instanceID   string
	memory       *RingBuffer
	dispatcher   *Dispatcher

	mu         sync.RWMutex
	configured bool
	settings   Settings
	redactor   *Redactor
	delivering bool
	transport  Transport

	// ingestMu orders timestamp clamping, the memory log and the queue
	// so all three agree.
	ingestMu sync.Mutex
	lastTS   time.Time
}

func NewLogger(cfg LoggerConfig) *StandardLogger {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	console := cfg.Console
	if console == nil {
		console = NewConsole(ConsoleConfig{})
	}

	newTransport := cfg.NewTransport
	if newTransport == nil {
		newTransport = HTTPTransportFactory
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return &StandardLogger{
		clock:        clk,
		console:      console,
		newTransport: newTransport,
		instanceID:   instanceID,
		memory:       NewRingBuffer(cfg.MemoryCapacity),
		dispatcher:   NewDispatcher(clk, console),
	}
}

// Init applies cfg. It can be called again to reconfigure; pending
// entries survive and the flush timer restarts. Init never fails: when
// the transport cannot be built the logger keeps running local-only.
func (l *StandardLogger) Init(cfg Config) {
	s := cfg.Normalize()
	redactor := NewRedactor(s.Redact, s.RedactKeys...)

	var transport Transport
	if s.DeliveryEnabled() {
		t, err := l.newTransport(s, l.instanceID)
		if err != nil {
			l.console.Error("Transport unavailable, logging locally",
				WithField("project_id", s.ProjectID),
				WithError(err),
			)
		} else {
			transport = t
		}
	}

	l.mu.Lock()
	l.configured = true
	l.settings = s
	l.redactor = redactor
	l.delivering = transport != nil
	l.transport = transport
	l.mu.Unlock()

	applied := l.dispatcher.Configure(DispatchSettings{
		ProjectID: s.ProjectID,
		Transport: transport,
		BatchSize: s.BatchSize,
		Interval:  s.FlushInterval,
		MaxQueue:  s.MaxQueue,
	})
	if !applied {
		// Closed logger: nothing will ever deliver through this transport.
		l.mu.Lock()
		l.transport = nil
		l.delivering = false
		l.mu.Unlock()
		if c, ok := transport.(io.Closer); ok {
			c.Close()
		}
	}

	l.console.Debug("Logger configured",
		WithField("project_id", s.ProjectID),
		WithField("level", s.Level.String()),
		WithField("delivery", transport != nil),
	)
}

// Enabled reports whether an entry at level would be accepted. It is
// false until Init has been called.
func (l *StandardLogger) Enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.configured && level.ShouldLog(l.settings.Level)
}

func (l *StandardLogger) log(level Level, msg string, details []Detail) {
	if !l.Enabled(level) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.console.Error("Log call panicked",
				WithField("panic", fmt.Sprint(r)),
				WithStack(string(debug.Stack())),
			)
		}
	}()

	l.mu.RLock()
	redactor := l.redactor
	delivering := l.delivering
	echo := l.settings.Echo
	l.mu.RUnlock()

	now := l.clock.Now()
	entry := NewEntry(level, msg, now, details...)
	entry = l.redact(redactor, entry)
	entry = l.ingest(entry, now, delivering)

	if echo {
		l.console.Write(entry)
	}
}

// ingest clamps the entry's timestamp to the previous one and appends it
// to the memory log and the queue in a single step.
func (l *StandardLogger) ingest(entry Entry, now time.Time, delivering bool) Entry {
	l.ingestMu.Lock()
	defer l.ingestMu.Unlock()

	ts, err := time.Parse(TimeFormat, entry.Timestamp)
	if err != nil {
		ts = now
	}
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts
	entry.Timestamp = FormatTimestamp(ts)

	l.memory.Append(entry)
	if delivering {
		l.dispatcher.Enqueue(entry)
	}
	return entry
}

func (l *StandardLogger) redact(r *Redactor, entry Entry) (out Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			l.console.Warn("Redaction failed, storing placeholder",
				WithField("panic", fmt.Sprint(rec)),
			)
			out = unredactable(entry)
		}
	}()
	return r.Redact(entry)
}

func (l *StandardLogger) Debug(msg string, details ...Detail) { l.log(DEBUG, msg, details) }
func (l *StandardLogger) Info(msg string, details ...Detail)  { l.log(INFO, msg, details) }
func (l *StandardLogger) Warn(msg string, details ...Detail)  { l.log(WARN, msg, details) }
func (l *StandardLogger) Error(msg string, details ...Detail) { l.log(ERROR, msg, details) }

// Fatal records a FATAL entry. It does not exit the process.
func (l *StandardLogger) Fatal(msg string, details ...Detail) { l.log(FATAL, msg, details) }

func (l *StandardLogger) Log(level Level, msg string, details ...Detail) {
	l.log(level, msg, details)
}

func (l *StandardLogger) With(details ...Detail) Logger {
	return &boundLogger{parent: l, details: details}
}

// MemoryLog returns up to limit of the most recent entries, oldest
// first. limit <= 0 returns the whole memory log.
func (l *StandardLogger) MemoryLog(limit int) []Entry {
	return l.memory.Snapshot(limit)
}

func (l *StandardLogger) Pending() int {
	return l.dispatcher.Pending()
}

func (l *StandardLogger) Stats() DispatchStats {
	return l.dispatcher.Stats()
}

// Flush starts delivering one batch if possible.
func (l *StandardLogger) Flush() bool {
	return l.dispatcher.Flush()
}

func (l *StandardLogger) Config() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

func (l *StandardLogger) InstanceID() string {
	return l.instanceID
}

// Close stops the flush timer, drains the queue once and closes the
// current transport; transports replaced by Init are closed as soon as
// their last delivery ends. Logging after Close still fills the
// memory log but nothing more is delivered.
func (l *StandardLogger) Close(ctx context.Context) error {
	err := l.dispatcher.Close(ctx)

	l.mu.Lock()
	transport := l.transport
	l.transport = nil
	l.delivering = false
	l.mu.Unlock()

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	if c, ok := transport.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", cerr))
		}
	}
	return errors.Join(errs...)
}

type boundLogger struct {
	parent  *StandardLogger
	details []Detail
}

func (b *boundLogger) merge(details []Detail) []Detail {
	out := make([]Detail, 0, len(b.details)+len(details))
	out = append(out, b.details...)
	return append(out, details...)
}

func (b *boundLogger) Debug(msg string, details ...Detail) { b.parent.log(DEBUG, msg, b.merge(details)) }
func (b *boundLogger) Info(msg string, details ...Detail)  { b.parent.log(INFO, msg, b.merge(details)) }
func (b *boundLogger) Warn(msg string, details ...Detail)  { b.parent.log(WARN, msg, b.merge(details)) }
func (b *boundLogger) Error(msg string, details ...Detail) { b.parent.log(ERROR, msg, b.merge(details)) }
func (b *boundLogger) Fatal(msg string, details ...Detail) { b.parent.log(FATAL, msg, b.merge(details)) }

func (b *boundLogger) With(details ...Detail) Logger {
	return &boundLogger{parent: b.parent, details: b.merge(details)}
}

type NopLogger struct{}

func (NopLogger) Debug(msg string, details ...Detail) {}
func (NopLogger) Info(msg string, details ...Detail)  {}
func (NopLogger) Warn(msg string, details ...Detail)  {}
func (NopLogger) Error(msg string, details ...Detail) {}
func (NopLogger) Fatal(msg string, details ...Detail) {}
func (n NopLogger) With(details ...Detail) Logger     { return n }
