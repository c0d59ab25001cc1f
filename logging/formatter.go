package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

type Formatter interface {
	Format(entry Entry) ([]byte, error)
}

type JSONFormatter struct{}

func (f *JSONFormatter) Format(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(data, '\n'), nil
}

type HumanFormatter struct {
	colorEnabled bool
}

func NewHumanFormatter(w io.Writer) *HumanFormatter {
	colorEnabled := false
	if f, ok := w.(*os.File); ok {
		colorEnabled = isatty.IsTerminal(f.Fd())
	}
	return &HumanFormatter{colorEnabled: colorEnabled}
}

func (f *HumanFormatter) Format(entry Entry) ([]byte, error) {
	var b strings.Builder

	ts := entry.Timestamp
	if t, err := entry.Time(); err == nil {
		ts = t.Format("15:04:05")
	}
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(f.colorLevel(entry.Level))

	if entry.Context != nil && entry.Context.Module != "" {
		b.WriteString(" [")
		b.WriteString(entry.Context.Module)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	if entry.Code != nil {
		writePair(&b, "code", entry.Code.String())
	}
	if h := entry.HTTP; h != nil {
		writePair(&b, "http", strings.TrimSpace(h.Method+" "+h.URL))
		if h.Status != 0 {
			writePair(&b, "status", strconv.Itoa(h.Status))
		}
		if h.LatencyMS != 0 {
			writePair(&b, "latency_ms", strconv.FormatFloat(h.LatencyMS, 'f', -1, 64))
		}
	}
	if entry.Payload != nil {
		if entry.Payload.Kind() == KindObject {
			for _, k := range entry.Payload.Keys() {
				v, _ := entry.Payload.Get(k)
				writePair(&b, k, humanValue(v))
			}
		} else {
			writePair(&b, "payload", humanValue(*entry.Payload))
		}
	}
	if entry.Trace != nil && entry.Trace.TraceID != "" {
		writePair(&b, "trace_id", entry.Trace.TraceID)
	}
	b.WriteByte('\n')

	if entry.Stack != "" {
		b.WriteString(entry.Stack)
		if !strings.HasSuffix(entry.Stack, "\n") {
			b.WriteByte('\n')
		}
	}

	return []byte(b.String()), nil
}

func writePair(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
}

func humanValue(v Value) string {
	if v.Kind() == KindString {
		return v.Text()
	}
	return v.String()
}

func (f *HumanFormatter) colorLevel(l Level) string {
	name := l.String()
	if !f.colorEnabled {
		return fmt.Sprintf("%-5s", name)
	}

	var color string
	switch l {
	case DEBUG:
		color = "\033[36m" // cyan
	case INFO:
		color = "\033[32m" // green
	case WARN:
		color = "\033[33m" // yellow
	case ERROR:
		color = "\033[31m" // red
	case FATAL:
		color = "\033[35m" // magenta
	default:
		color = ""
	}
	return fmt.Sprintf("%s%-5s\033[0m", color, name)
}
