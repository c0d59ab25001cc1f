package instrument

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/auditmos/blackbox/logging"
)

// SlogHandler bridges log/slog into a logging.Logger. Attributes become
// the payload and the record source becomes ctx.
type SlogHandler struct {
	logger logging.Logger
	level  slog.Leveler
	attrs  []scopedAttr
	groups []string
}

// scopedAttr is an attribute added by WithAttrs together with the groups
// that were open at the time.
type scopedAttr struct {
	groups []string
	attr   slog.Attr
}

func NewSlogHandler(logger logging.Logger, level slog.Leveler) *SlogHandler {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &SlogHandler{logger: logger, level: level}
}

// LevelFromSlog maps slog levels onto the five logging levels. Anything
// above slog.LevelError+4 is FATAL.
func LevelFromSlog(l slog.Level) logging.Level {
	switch {
	case l < slog.LevelInfo:
		return logging.DEBUG
	case l < slog.LevelWarn:
		return logging.INFO
	case l < slog.LevelError:
		return logging.WARN
	case l < slog.LevelError+4:
		return logging.ERROR
	default:
		return logging.FATAL
	}
}

type levelChecker interface {
	Enabled(level logging.Level) bool
}

func (h *SlogHandler) Enabled(_ context.Context, l slog.Level) bool {
	if l < h.level.Level() {
		return false
	}
	if lc, ok := h.logger.(levelChecker); ok {
		return lc.Enabled(LevelFromSlog(l))
	}
	return true
}

func (h *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	payload := map[string]any{}
	for _, sa := range h.attrs {
		addAttr(groupMap(payload, sa.groups), sa.attr)
	}
	if r.NumAttrs() > 0 {
		target := groupMap(payload, h.groups)
		r.Attrs(func(a slog.Attr) bool {
			addAttr(target, a)
			return true
		})
	}
	pruneEmpty(payload)

	// The record time is ignored so the logger keeps stamps in order.
	var details []logging.Detail
	if len(payload) > 0 {
		details = append(details, logging.WithPayload(payload))
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		module, fn := splitFunc(f.Function)
		details = append(details, logging.WithContext(logging.ContextInfo{
			Module: module,
			File:   filepath.Base(f.File),
			Func:   fn,
			Line:   f.Line,
		}))
	}

	switch LevelFromSlog(r.Level) {
	case logging.DEBUG:
		h.logger.Debug(r.Message, details...)
	case logging.INFO:
		h.logger.Info(r.Message, details...)
	case logging.WARN:
		h.logger.Warn(r.Message, details...)
	case logging.ERROR:
		h.logger.Error(r.Message, details...)
	default:
		h.logger.Fatal(r.Message, details...)
	}
	return nil
}

func groupMap(root map[string]any, groups []string) map[string]any {
	m := root
	for _, g := range groups {
		next, ok := m[g].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[g] = next
		}
		m = next
	}
	return m
}

// pruneEmpty drops groups that ended up without attributes.
func pruneEmpty(m map[string]any) {
	for k, v := range m {
		sub, ok := v.(map[string]any)
		if !ok {
			continue
		}
		pruneEmpty(sub)
		if len(sub) == 0 {
			delete(m, k)
		}
	}
}

func addAttr(m map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return
		}
		target := m
		if a.Key != "" {
			target = map[string]any{}
			m[a.Key] = target
		}
		for _, ga := range attrs {
			addAttr(target, ga)
		}
		return
	}
	m[a.Key] = a.Value.Any()
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = make([]scopedAttr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, scopedAttr{groups: h.groups, attr: a})
	}
	return &next
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func splitFunc(full string) (string, string) {
	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return "", full
	}
	dot += slash + 1
	return full[slash+1 : dot], full[dot+1:]
}
