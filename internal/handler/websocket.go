package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/audit"
	"github.com/remotecast/relay-server-go/internal/config"
	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/httputil"
	"github.com/remotecast/relay-server-go/internal/protocol"
	"github.com/remotecast/relay-server-go/internal/service"
	"github.com/remotecast/relay-server-go/internal/store"
)

var (
	pairFailedFrame     = protocol.Bare(protocol.TypePairFailed)
	sessionInvalidFrame = protocol.Bare(protocol.TypeSessionInvalid)
)

type WebSocketOptions struct {
	AllowedOrigins    []string
	MaxMessageBytes   int64
	RateLimitInterval time.Duration
}

// WebSocketHandler owns each relay connection from upgrade to cleanup.
type WebSocketHandler struct {
	store     *store.Store
	handshake *service.HandshakeService
	router    *service.Router
	failures  *service.FailureLimiter
	upgrader  websocket.Upgrader
	opts      WebSocketOptions
}

func NewWebSocketHandler(
	st *store.Store,
	handshake *service.HandshakeService,
	router *service.Router,
	failures *service.FailureLimiter,
	opts WebSocketOptions,
) *WebSocketHandler {
	h := &WebSocketHandler{
		store:     st,
		handshake: handshake,
		router:    router,
		failures:  failures,
		opts:      opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.HandshakeBuffer,
		WriteBufferSize: config.HandshakeBuffer,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin.
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}

	log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	if h.opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.opts.MaxMessageBytes)
	}

	conn := newWSConn(ws)
	go conn.writePump()
	h.store.Track(conn)

	binding := &service.Binding{
		ConnID:    conn.ID(),
		IP:        httputil.RemoteHost(r),
		UserAgent: r.UserAgent(),
	}
	limiter := service.NewMessageLimiter(h.opts.RateLimitInterval)

	log.Debug().Str("connId", conn.ID()).Str("ip", binding.IP).Msg("websocket connected")

	defer func() {
		h.handshake.Disconnect(conn, binding)
		h.store.Untrack(conn)
		conn.Close()
		log.Debug().
			Str("connId", conn.ID()).
			Str("role", string(binding.Role)).
			Str("sessionId", binding.SessionID).
			Msg("websocket closed")
	}()

	ctx := r.Context()
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("connId", conn.ID()).Msg("websocket read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !h.handleFrame(ctx, conn, binding, limiter, data) {
			return
		}
	}
}

// handleFrame processes one inbound frame and reports whether the connection
// should stay open.
func (h *WebSocketHandler) handleFrame(
	ctx context.Context,
	conn *wsConn,
	b *service.Binding,
	limiter *service.MessageLimiter,
	data []byte,
) bool {
	msg, ok := protocol.Parse(data)
	if !ok {
		return true
	}

	switch msg.Kind {
	case protocol.KindHandshake:
		err := h.handshake.Handle(ctx, conn, b, msg)
		return h.handshakeOutcome(ctx, conn, b, msg, err)

	case protocol.KindSession:
		if !b.Bound() {
			return true
		}
		if !limiter.Allow() {
			log.Debug().
				Str("connId", b.ConnID).
				Str("type", string(msg.Type)).
				Msg("session message rate limited")
			return true
		}
		if _, err := h.router.Route(conn, b, msg); err != nil {
			log.Debug().Err(err).Str("connId", b.ConnID).Str("type", string(msg.Type)).Msg("session message dropped")
		}
	}
	return true
}

func (h *WebSocketHandler) handshakeOutcome(
	ctx context.Context,
	conn *wsConn,
	b *service.Binding,
	msg *protocol.Message,
	err error,
) bool {
	if err == nil {
		return true
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeForbidden:
		log.Warn().
			Str("connId", b.ConnID).
			Str("role", string(b.Role)).
			Str("type", string(msg.Type)).
			Msg("role violation, terminating connection")
		conn.Terminate()
		return false

	case apperrors.ErrCodeInvalidPairingCode:
		_ = conn.Send(pairFailedFrame)
		return h.countFailure(ctx, conn, b)

	case apperrors.ErrCodeInvalidToken:
		_ = conn.Send(sessionInvalidFrame)
		return h.countFailure(ctx, conn, b)

	case apperrors.ErrCodeInternal:
		log.Error().Err(err).Str("connId", b.ConnID).Str("type", string(msg.Type)).Msg("handshake failed")

	default:
		log.Debug().Err(err).Str("connId", b.ConnID).Str("type", string(msg.Type)).Msg("handshake ignored")
	}
	return true
}

func (h *WebSocketHandler) countFailure(ctx context.Context, conn *wsConn, b *service.Binding) bool {
	if h.failures == nil || h.failures.RecordFailure(b.IP) {
		return true
	}

	ev := audit.Event{
		Type:      audit.EventRateLimitExceed,
		ConnID:    b.ConnID,
		IP:        b.IP,
		UserAgent: b.UserAgent,
		Details:   map[string]interface{}{"scope": "handshake"},
	}
	audit.Log(ctx, ev)

	conn.Close()
	return false
}
