package handlers

import (
	"log/slog"
	"net/http"
)

// HealthHandler answers liveness probes. It deliberately touches nothing
// but the response writer, so it stays green while the store or an
// upstream is down.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("write health response", "error", err)
	}
}
