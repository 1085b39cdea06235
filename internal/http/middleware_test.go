package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/leadlink/internal/models"
	"github.com/wolfeidau/leadlink/internal/store/memory"
)

func TestExtractClientIP_xForwardedFor(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{
			name:     "single IP",
			header:   "192.168.1.1",
			expected: "192.168.1.1",
		},
		{
			name:     "multiple IPs (take first)",
			header:   "203.0.113.1, 198.51.100.1",
			expected: "203.0.113.1",
		},
		{
			name:     "multiple IPs no spaces",
			header:   "203.0.113.1,198.51.100.1",
			expected: "203.0.113.1",
		},
		{
			name:     "multiple IPs with extra spaces",
			header:   "203.0.113.1  ,  198.51.100.1",
			expected: "203.0.113.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("X-Forwarded-For", tt.header)

			ip := ExtractClientIP(r)
			require.Equal(t, tt.expected, ip)
		})
	}
}

func TestExtractClientIP_xRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "192.168.1.100")

	ip := ExtractClientIP(r)
	require.Equal(t, "192.168.1.100", ip)
}

func TestExtractClientIP_xForwardedForTakesPreference(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.1")
	r.Header.Set("X-Real-IP", "192.168.1.100")

	ip := ExtractClientIP(r)
	// X-Forwarded-For should take precedence
	require.Equal(t, "203.0.113.1", ip)
}

func TestExtractClientIP_remoteAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		expected   string
	}{
		{
			name:       "IPv4 with port",
			remoteAddr: "192.168.1.1:54321",
			expected:   "192.168.1.1",
		},
		{
			name:       "IPv6 with port",
			remoteAddr: "[2001:db8::1]:54321",
			expected:   "[2001:db8::1]",
		},
		{
			name:       "no port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr

			ip := ExtractClientIP(r)
			require.Equal(t, tt.expected, ip)
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	middleware := ClientIPMiddleware()

	var capturedIP string
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedIP = ClientIPFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "203.0.113.1", capturedIP)
}

func TestClientIPFromContext_missing(t *testing.T) {
	ctx := context.Background()

	ip := ClientIPFromContext(ctx)
	require.Empty(t, ip)
}

func TestOrganizationMiddleware(t *testing.T) {
	ctx := context.Background()
	orgs := memory.NewOrganizationStore()

	now := time.Now().UTC()
	primary := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: "Primary", APIKey: "key-primary", Active: true, CreatedAt: now.Add(-time.Hour)}
	other := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: "Other", APIKey: "key-other", Active: true, CreatedAt: now}
	retired := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: "Retired", APIKey: "key-retired", Active: false, CreatedAt: now}
	for _, org := range []*models.Organization{primary, other, retired} {
		require.NoError(t, orgs.Create(ctx, org))
	}

	tests := []struct {
		name           string
		apiKey         string
		expectedStatus int
		expectedOrg    uuid.UUID
	}{
		{name: "no key uses the default organization", expectedStatus: http.StatusOK, expectedOrg: primary.OrgID},
		{name: "key selects its organization", apiKey: "key-other", expectedStatus: http.StatusOK, expectedOrg: other.OrgID},
		{name: "unknown key is rejected", apiKey: "nope", expectedStatus: http.StatusUnauthorized},
		{name: "inactive organization is rejected", apiKey: "key-retired", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured uuid.UUID
			handler := OrganizationMiddleware(orgs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				org, ok := OrganizationFromContext(r.Context())
				require.True(t, ok)
				captured = org.OrgID
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodGet, "/api/leads", nil)
			if tt.apiKey != "" {
				r.Header.Set(APIKeyHeader, tt.apiKey)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			require.Equal(t, tt.expectedStatus, w.Code)
			require.Equal(t, tt.expectedOrg, captured)
		})
	}
}

func TestOrganizationMiddleware_noOrganizations(t *testing.T) {
	handler := OrganizationMiddleware(memory.NewOrganizationStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/leads", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"unknown organization"}`, w.Body.String())
}
