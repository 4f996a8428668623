package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

// AccessSink is the slice of the store the access logger writes through.
type AccessSink interface {
	AppendAccessLog(rec store.AccessLog) (int64, error)
	UpdateAccessLog(id int64, statusCode int, responseTime int64, errMsg string) error
}

type responseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.length += n

	return n, err
}

// Flush keeps SSE responses flushable through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type accessKeyType struct{}

var accessKey accessKeyType

type accessState struct {
	err string
}

// AccessError attaches a failure message to the in-flight request. The
// access logger patches it onto the access line when the request finishes.
func AccessError(ctx context.Context, msg string) {
	if state, ok := ctx.Value(accessKey).(*accessState); ok {
		state.err = msg
	}
}

// NewAccessMiddleware writes an access line for every request up front and
// patches in status, duration and error on completion.
func NewAccessMiddleware(sink AccessSink, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id, err := sink.AppendAccessLog(store.AccessLog{
				Method:     r.Method,
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
			})
			if err != nil {
				logger.Error("append access log", "error", err)
			}

			state := &accessState{}
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), accessKey, state)))

			duration := time.Since(start)

			if id != 0 {
				if err := sink.UpdateAccessLog(id, wrapped.status, duration.Milliseconds(), state.err); err != nil {
					logger.Error("update access log", "error", err)
				}
			}

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration", duration,
				"length", wrapped.length,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
