package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

type AuthMiddleware struct {
	manager *config.Manager
	logger  *slog.Logger
}

// NewAuthMiddleware guards a surface with the configured proxy key. An
// empty configured key disables the check entirely.
func NewAuthMiddleware(manager *config.Manager, logger *slog.Logger) Middleware {
	am := &AuthMiddleware{
		manager: manager,
		logger:  logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Warn("authentication failed", "error", err, "remote_addr", r.RemoteAddr, "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	key := am.manager.Current().App.APIKey
	if key == "" {
		return nil
	}

	var token string

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("x-api-key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no credentials presented")
	}

	if token != key {
		return errors.New("key mismatch")
	}

	return nil
}
