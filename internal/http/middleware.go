package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store"
)

type contextKey string

const (
	clientIPContextKey     contextKey = "client_ip"
	organizationContextKey contextKey = "organization"

	// APIKeyHeader selects the organization a request acts for.
	APIKeyHeader = "X-API-Key"
)

// ExtractClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For header first (for proxied requests), then X-Real-IP, finally RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the list (comma-separated)
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr, stripping port
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}

// ClientIPFromContext extracts the client IP from the request context.
// This should be called from handlers wrapped by ClientIPMiddleware.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}

// ClientIPMiddleware stores the client IP in the request context so the chat handler
// can record it in the lead's channel context.
func ClientIPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractClientIP(r)
			ctx := context.WithValue(r.Context(), clientIPContextKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrganizationFromContext returns the organization resolved by OrganizationMiddleware.
func OrganizationFromContext(ctx context.Context) (*models.Organization, bool) {
	org, ok := ctx.Value(organizationContextKey).(*models.Organization)
	return org, ok
}

// OrganizationMiddleware resolves the organization from the X-API-Key header. Requests without a key
// act for the default organization; an unknown or inactive key is rejected.
func OrganizationMiddleware(orgs store.OrganizationStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				org *models.Organization
				err error
			)

			if key := r.Header.Get(APIKeyHeader); key != "" {
				org, err = orgs.GetByAPIKey(r.Context(), key)
			} else {
				org, err = orgs.GetDefault(r.Context())
			}

			switch {
			case errors.Is(err, store.ErrOrganizationNotFound):
				writeError(w, http.StatusUnauthorized, "unknown organization")
				return
			case err != nil:
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to resolve organization")
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), organizationContextKey, org)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger injects a request scoped logger into the context and logs each request when it completes.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			ctx := logger.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(r.Context())).
				Logger().WithContext(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			evt := zerolog.Ctx(ctx).Info()
			if ww.Status() >= http.StatusInternalServerError {
				evt = zerolog.Ctx(ctx).Error()
			}
			evt.
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(started)).
				Msg("http request")
		})
	}
}
