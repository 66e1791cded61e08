package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/remotecast/relay-server-go/internal/audit"
	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/httputil"
	"github.com/remotecast/relay-server-go/internal/service"
)

type IPRateLimitMiddleware struct {
	limiter service.KeyedLimiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter service.KeyedLimiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.RemoteHost(r)

		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix},
			})
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
