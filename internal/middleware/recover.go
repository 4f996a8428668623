package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

// ErrorSink receives failures worth keeping around.
type ErrorSink interface {
	AppendErrorLog(rec store.ErrorLog) error
}

// NewRecoverMiddleware turns a handler panic into a 500 and an error log
// entry carrying the stack.
func NewRecoverMiddleware(sink ErrorSink, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := string(debug.Stack())

					logger.Error("panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", stack,
					)

					if err := sink.AppendErrorLog(store.ErrorLog{
						Method:         r.Method,
						Path:           r.URL.Path,
						RequestHeaders: store.HeaderMap(r.Header),
						Message:        fmt.Sprintf("panic: %v", rec),
						Stack:          stack,
					}); err != nil {
						logger.Error("append error log", "error", err)
					}

					// Headers may already be gone mid-stream; the write
					// is then a no-op and the client sees a broken body.
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
