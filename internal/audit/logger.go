package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventHostRegister    EventType = "host_register"
	EventHostRecover     EventType = "host_recover"
	EventHostHijack      EventType = "host_hijack"
	EventPairCodeIssue   EventType = "pair_code_issue"
	EventPairSuccess     EventType = "pair_success"
	EventPairFailure     EventType = "pair_failure"
	EventSessionValid    EventType = "session_valid"
	EventSessionInvalid  EventType = "session_invalid"
	EventRemoteRevoke    EventType = "remote_revoke"
	EventRoleViolation   EventType = "role_violation"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventAuthFailure     EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	SessionID string
	RemoteID  string
	ConnID    string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.RemoteID != "" {
		logger = logger.With().Str("remote_id", event.RemoteID).Logger()
	}
	if event.ConnID != "" {
		logger = logger.With().Str("conn_id", event.ConnID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers the proxy headers; chi's RealIP middleware has usually
// already folded them into RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
