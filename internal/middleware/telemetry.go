package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// Clients pointed wholesale at the proxy keep sending their telemetry to
// it: Claude Code posts statsig events and usage metrics relative to the
// overridden base URL. Those must not reach the proxy engine or the admin
// API, so they are answered locally with the shapes the clients expect.
type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) Middleware {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

// statsigPaths show up either at the root or under a client surface
// prefix, depending on how the client joins URLs.
var statsigPaths = []string{
	"/v1/rgstr",
	"/v1/initialize",
	"/v1/log_event",
	"/statsig",
	"/telemetry",
	"/analytics",
}

var metricsPaths = []string{
	"/api/claude_code/metrics",
	"/claude_code/metrics",
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		for _, p := range metricsPaths {
			if strings.Contains(path, p) {
				tbm.logger.Debug("blocked metrics request", "path", path)
				sendMetricsResponse(w)

				return
			}
		}

		for _, p := range statsigPaths {
			if strings.Contains(path, p) {
				tbm.logger.Debug("blocked telemetry request", "path", path)
				sendStatsigResponse(w)

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func sendStatsigResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"success":true}`))
}

func sendMetricsResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"accepted_count":0,"rejected_count":0}`))
}
