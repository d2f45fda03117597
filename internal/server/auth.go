package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/pkg/model"
)

const ctxKeyCaller ctxKey = "caller"

// CallerFromContext extracts the authenticated caller address from
// request context.
func CallerFromContext(ctx context.Context) model.Address {
	if addr, ok := ctx.Value(ctxKeyCaller).(model.Address); ok {
		return addr
	}
	return model.ZeroAddress
}

// authMiddleware resolves the caller identity for a request. API keys
// map bearer tokens onto addresses; when anonymous access is enabled,
// a caller may instead name itself with the X-Caller header. Requests
// with no resolvable identity are rejected before any handler runs.
func authMiddleware(cfg config.ServerConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())

			if auth := r.Header.Get("Authorization"); auth != "" {
				key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				addr, ok := cfg.APIKeys[key]
				if !ok {
					logger.Warn("rejected unknown api key", "request_id", reqID)
					respondErrorCode(w, reqID, model.ErrUnauthorized, "unknown API key")
					return
				}
				ctx := context.WithValue(r.Context(), ctxKeyCaller, model.Address(addr))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !cfg.AllowAnonymous {
				respondErrorCode(w, reqID, model.ErrUnauthorized, "authentication required")
				return
			}

			caller := model.Address(strings.TrimSpace(r.Header.Get("X-Caller")))
			if caller == model.ZeroAddress {
				respondErrorCode(w, reqID, model.ErrUnauthorized, "caller identity required: set X-Caller or use an API key")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
