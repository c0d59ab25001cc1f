package instrument

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/auditmos/blackbox/logging"
)

// Recover logs a panic in the calling goroutine and re-panics. Use it
// directly as a deferred call:
//
//	defer instrument.Recover(logger)
func Recover(logger logging.Logger) {
	r := recover()
	if r == nil {
		return
	}
	logPanic(logger, r, debug.Stack())
	panic(r)
}

// Middleware turns handler panics into logged 500 responses.
func Middleware(next http.Handler, logger logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			logPanic(logger, rec, debug.Stack(), logging.WithHTTP(logging.HTTPInfo{
				Method: r.Method,
				URL:    r.URL.String(),
				Status: http.StatusInternalServerError,
			}))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func logPanic(logger logging.Logger, r any, stack []byte, details ...logging.Detail) {
	if logger == nil {
		return
	}
	source := ""
	// 0 is logPanic, 1 the deferred func, 2 runtime.gopanic, 3 the panic site.
	if _, file, line, ok := runtime.Caller(3); ok {
		source = fmt.Sprintf("%s:%d", file, line)
	}

	details = append(details,
		logging.WithStack(string(stack)),
		logging.WithPayload(map[string]any{
			"message": fmt.Sprint(r),
			"source":  source,
		}),
	)
	logger.Error("Unhandled panic", details...)
}
