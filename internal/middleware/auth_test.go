package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/remotecast/relay-server-go/internal/util"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOperatorAuthMiddleware(t *testing.T) {
	hash, err := util.HashSecret("operator-secret", bcrypt.MinCost)
	require.NoError(t, err)
	handler := NewOperatorAuthMiddleware(hash).Handler(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer operator-secret", http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic operator-secret", http.StatusUnauthorized},
		{"wrong token", "Bearer guess", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("no configured hash rejects everything", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer operator-secret")
		rec := httptest.NewRecorder()

		NewOperatorAuthMiddleware("").Handler(okHandler()).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")
	})
}
