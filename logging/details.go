package logging

import (
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Detail sets optional fields on an entry being built.
type Detail func(*Entry)

func WithCode(code string) Detail {
	return func(e *Entry) {
		v := String(code)
		e.Code = &v
	}
}

func WithNumericCode(code int) Detail {
	return func(e *Entry) {
		v := Number(float64(code))
		e.Code = &v
	}
}

func WithHTTP(info HTTPInfo) Detail {
	return func(e *Entry) {
		e.HTTP = &info
	}
}

func WithContext(info ContextInfo) Detail {
	return func(e *Entry) {
		e.Context = &info
	}
}

func WithTrace(info TraceInfo) Detail {
	return func(e *Entry) {
		e.Trace = &info
	}
}

func WithStack(stack string) Detail {
	return func(e *Entry) {
		e.Stack = stack
	}
}

// WithPayload replaces the payload with the converted form of data.
func WithPayload(data any) Detail {
	v := ValueOf(data)
	return WithValue(v)
}

func WithValue(v Value) Detail {
	return func(e *Entry) {
		e.Payload = &v
	}
}

// WithField adds one key to the payload object, turning a non-object
// payload into an object.
func WithField(key string, data any) Detail {
	v := ValueOf(data)
	return func(e *Entry) {
		var base Value
		if e.Payload != nil {
			base = *e.Payload
		}
		merged := base.With(key, v)
		e.Payload = &merged
	}
}

func WithError(err error) Detail {
	if err == nil {
		return nil
	}
	message := err.Error()
	errType := ErrorType(err)
	return func(e *Entry) {
		var base Value
		if e.Payload != nil {
			base = *e.Payload
		}
		merged := base.With("error", String(message))
		if errType != "" {
			merged = merged.With("error_type", String(errType))
		}
		e.Payload = &merged
	}
}

func WithTimestamp(t time.Time) Detail {
	ts := FormatTimestamp(t)
	return func(e *Entry) {
		e.Timestamp = ts
	}
}

// WithCaller records the file, function and line of the caller skip
// frames above the function calling WithCaller.
func WithCaller(skip int) Detail {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return nil
	}
	funcName := ""
	module := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		module, funcName = splitFuncName(fn.Name())
	}
	return func(e *Entry) {
		info := ContextInfo{}
		if e.Context != nil {
			info = *e.Context
		}
		if info.Module == "" {
			info.Module = module
		}
		info.File = filepath.Base(file)
		info.Func = funcName
		info.Line = line
		e.Context = &info
	}
}

// splitFuncName splits "github.com/x/y/pkg.(*T).Method" into the
// package name and the remainder.
func splitFuncName(full string) (string, string) {
	slash := strings.LastIndex(full, "/")
	dot := strings.Index(full[slash+1:], ".")
	if dot < 0 {
		return "", full
	}
	dot += slash + 1
	return full[slash+1 : dot], full[dot+1:]
}
