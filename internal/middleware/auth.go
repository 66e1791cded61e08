package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/audit"
	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/util"
)

// OperatorAuthMiddleware guards the operator endpoints with a bearer token
// checked against a bcrypt hash.
type OperatorAuthMiddleware struct {
	tokenHash string
}

func NewOperatorAuthMiddleware(tokenHash string) *OperatorAuthMiddleware {
	return &OperatorAuthMiddleware{tokenHash: tokenHash}
}

func (m *OperatorAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if m.tokenHash == "" || !util.CheckSecretHash(token, m.tokenHash) {
			log.Warn().Str("path", r.URL.Path).Msg("operator auth: invalid token attempt")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.InvalidToken("Invalid token"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}
