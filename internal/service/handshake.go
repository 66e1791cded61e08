package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/audit"
	apperrors "github.com/remotecast/relay-server-go/internal/errors"
	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/protocol"
	"github.com/remotecast/relay-server-go/internal/store"
	"github.com/remotecast/relay-server-go/internal/util"
)

// Binding is the per-connection handshake state. It is owned by the
// connection's read loop and never shared.
type Binding struct {
	ConnID    string
	IP        string
	UserAgent string

	Role      protocol.Role
	SessionID string
	RemoteID  string
}

func (b *Binding) Bound() bool {
	return b.Role != protocol.RoleUnset && b.SessionID != ""
}

func (b *Binding) auditEvent(t audit.EventType) audit.Event {
	return audit.Event{
		Type:      t,
		SessionID: b.SessionID,
		RemoteID:  b.RemoteID,
		ConnID:    b.ConnID,
		IP:        b.IP,
		UserAgent: b.UserAgent,
	}
}

// EventEmitter receives lifecycle notifications. Implementations must not
// block.
type EventEmitter interface {
	Emit(kind model.LifecycleEvent, sessionID, remoteID string)
}

type nopEmitter struct{}

func (nopEmitter) Emit(model.LifecycleEvent, string, string) {}

// HandshakeService implements the four handshake exchanges plus remote
// revocation. Success replies are queued on the peer by the store while it
// binds the socket; failures come back as AppErrors for the caller to turn
// into a protocol reply or a termination.
type HandshakeService struct {
	store    *store.Store
	events   EventEmitter
	newToken func() (string, error)
}

func NewHandshakeService(st *store.Store, events EventEmitter) *HandshakeService {
	if events == nil {
		events = nopEmitter{}
	}
	return &HandshakeService{
		store:    st,
		events:   events,
		newToken: util.GenerateToken,
	}
}

// Handle dispatches one handshake frame.
func (s *HandshakeService) Handle(ctx context.Context, peer store.Peer, b *Binding, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeRegisterHost:
		var req protocol.RegisterHost
		if err := msg.Decode(&req); err != nil {
			return apperrors.InvalidInput("REGISTER_HOST", err.Error())
		}
		return s.RegisterHost(ctx, peer, b, req)
	case protocol.TypeRequestPairCode:
		return s.RequestPairCode(ctx, peer, b)
	case protocol.TypeExchangePairCode:
		var req protocol.ExchangePairCode
		if err := msg.Decode(&req); err != nil {
			return apperrors.InvalidInput("EXCHANGE_PAIR_CODE", err.Error())
		}
		return s.ExchangePairCode(ctx, peer, b, req)
	case protocol.TypeValidateSession:
		var req protocol.ValidateSession
		if err := msg.Decode(&req); err != nil {
			return apperrors.InvalidInput("VALIDATE_SESSION", err.Error())
		}
		return s.ValidateSession(ctx, peer, b, req)
	case protocol.TypeUnpairRemote:
		var req protocol.UnpairRemote
		if err := msg.Decode(&req); err != nil {
			return apperrors.InvalidInput("UNPAIR_REMOTE", err.Error())
		}
		return s.UnpairRemote(ctx, peer, b, req)
	default:
		return apperrors.InvalidInput("type", "not a handshake message")
	}
}

// RegisterHost recovers the session named by the host token or creates a new
// one, and binds the connection as its host.
func (s *HandshakeService) RegisterHost(ctx context.Context, peer store.Peer, b *Binding, req protocol.RegisterHost) error {
	if b.Role == protocol.RoleRemote {
		s.roleViolation(ctx, b, protocol.TypeRegisterHost)
		return apperrors.Forbidden("remote connection cannot register as host")
	}

	info := model.HostInfo{}
	if req.Info != nil {
		info = *req.Info
	}

	if req.HostToken != "" {
		if sess, ok := s.store.LookupSessionByHostToken(req.HostToken); ok {
			welcome := protocol.Encode(protocol.HostRegistered{
				Type:      protocol.TypeHostRegistered,
				SessionID: sess.ID,
				HostToken: req.HostToken,
			})
			sameConn := b.Role == protocol.RoleHost && b.SessionID == sess.ID
			if _, ok := s.store.RebindHostSocket(sess.ID, peer, welcome); ok {
				s.bindHost(b, peer, sess.ID)

				eventType := audit.EventHostRecover
				if sess.HostOnline && !sameConn {
					eventType = audit.EventHostHijack
				}
				audit.Log(ctx, b.auditEvent(eventType))
				if !sess.HostOnline {
					s.events.Emit(model.EventHostReconnected, sess.ID, "")
				}
				return nil
			}
			log.Debug().Str("sessionId", sess.ID).Msg("session vanished during host recovery, creating new one")
		}
	}

	hostToken, err := s.newToken()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "generate host token", err)
	}

	sess := s.store.CreateSession(hostToken, info)
	welcome := protocol.Encode(protocol.HostRegistered{
		Type:      protocol.TypeHostRegistered,
		SessionID: sess.ID,
		HostToken: hostToken,
	})
	if _, ok := s.store.RebindHostSocket(sess.ID, peer, welcome); !ok {
		return apperrors.Internal("new session vanished before bind")
	}
	s.bindHost(b, peer, sess.ID)

	audit.Log(ctx, b.auditEvent(audit.EventHostRegister))
	s.events.Emit(model.EventSessionCreated, sess.ID, "")
	return nil
}

// RequestPairCode issues a fresh code for the host's session. Anyone else is
// ignored.
func (s *HandshakeService) RequestPairCode(ctx context.Context, peer store.Peer, b *Binding) error {
	if b.Role != protocol.RoleHost {
		return apperrors.SessionNotPaired()
	}

	code, ttl, ok := s.store.IssuePairCode(b.SessionID)
	if !ok {
		return apperrors.NotFound("Session")
	}

	if err := peer.Send(protocol.Encode(protocol.PairCode{
		Type: protocol.TypePairCode,
		Code: code,
		TTL:  ttl.Milliseconds(),
	})); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "queue pair code", err)
	}

	ev := b.auditEvent(audit.EventPairCodeIssue)
	ev.Details = map[string]interface{}{"code": util.MaskCode(code)}
	audit.Log(ctx, ev)
	return nil
}

// ExchangePairCode consumes the code and binds the connection as a freshly
// minted remote of the code's session.
func (s *HandshakeService) ExchangePairCode(ctx context.Context, peer store.Peer, b *Binding, req protocol.ExchangePairCode) error {
	if b.Role == protocol.RoleHost {
		s.roleViolation(ctx, b, protocol.TypeExchangePairCode)
		return apperrors.Forbidden("host connection cannot pair as remote")
	}

	sess, ok := s.store.ConsumePairCode(req.Code)
	if !ok {
		ev := b.auditEvent(audit.EventPairFailure)
		ev.Details = map[string]interface{}{"code": util.MaskCode(store.NormalizePairCode(req.Code))}
		audit.Log(ctx, ev)
		return apperrors.InvalidPairingCode()
	}

	trustToken, err := s.newToken()
	if err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("generate trust token")
		return apperrors.InvalidPairingCode()
	}

	identity, ok := s.store.RegisterRemote(sess.ID, trustToken)
	if !ok {
		return apperrors.InvalidPairingCode()
	}

	welcome := protocol.Encode(protocol.PairSuccess{
		Type:       protocol.TypePairSuccess,
		TrustToken: trustToken,
		SessionID:  sess.ID,
		HostInfo:   sess.HostInfo,
	})
	if _, ok := s.store.RebindRemoteSocket(identity.ID, peer, welcome); !ok {
		return apperrors.InvalidPairingCode()
	}
	s.bindRemote(b, peer, identity)

	audit.Log(ctx, b.auditEvent(audit.EventPairSuccess))
	s.events.Emit(model.EventRemotePaired, identity.SessionID, identity.ID)
	return nil
}

// ValidateSession re-attaches a remote by its trust token.
func (s *HandshakeService) ValidateSession(ctx context.Context, peer store.Peer, b *Binding, req protocol.ValidateSession) error {
	if b.Role == protocol.RoleHost {
		s.roleViolation(ctx, b, protocol.TypeValidateSession)
		return apperrors.Forbidden("host connection cannot validate as remote")
	}

	identity, ok := s.store.LookupRemoteByTrustToken(req.TrustToken)
	if !ok || !identity.Usable(s.store.Now()) {
		s.sessionInvalid(ctx, b, identity)
		return apperrors.InvalidToken("unknown, expired or revoked trust token")
	}

	sess, ok := s.store.Session(identity.SessionID)
	if !ok {
		s.sessionInvalid(ctx, b, identity)
		return apperrors.InvalidToken("session no longer exists")
	}

	welcome := protocol.Encode(protocol.SessionValid{
		Type:      protocol.TypeSessionValid,
		SessionID: sess.ID,
		HostInfo:  sess.HostInfo,
	})
	if _, ok := s.store.RebindRemoteSocket(identity.ID, peer, welcome); !ok {
		s.sessionInvalid(ctx, b, identity)
		return apperrors.InvalidToken("identity no longer usable")
	}
	s.bindRemote(b, peer, identity)

	audit.Log(ctx, b.auditEvent(audit.EventSessionValid))
	s.events.Emit(model.EventRemoteValidated, identity.SessionID, identity.ID)
	return nil
}

// UnpairRemote revokes one remote of the host's session, or all of them when
// no remoteId is given.
func (s *HandshakeService) UnpairRemote(ctx context.Context, peer store.Peer, b *Binding, req protocol.UnpairRemote) error {
	if b.Role != protocol.RoleHost {
		return apperrors.SessionNotPaired()
	}
	if req.RemoteID != "" && !util.IsValidUUID(req.RemoteID) {
		return apperrors.InvalidInput("remoteId", "must be a UUID")
	}

	revoked := s.store.RevokeRemotes(b.SessionID, req.RemoteID)
	for _, id := range revoked {
		ev := b.auditEvent(audit.EventRemoteRevoke)
		ev.RemoteID = id
		audit.Log(ctx, ev)
		s.events.Emit(model.EventRemoteRevoked, b.SessionID, id)
	}
	if len(revoked) == 0 {
		return apperrors.NotFound("Remote")
	}
	return nil
}

// Disconnect releases whatever the connection was bound to. It only touches
// state the connection still owns, so a socket that lost a hijack race
// leaves its successor alone.
func (s *HandshakeService) Disconnect(peer store.Peer, b *Binding) {
	switch b.Role {
	case protocol.RoleHost:
		if s.store.MarkHostDisconnected(b.SessionID, peer) {
			log.Info().Str("sessionId", b.SessionID).Str("connId", b.ConnID).Msg("host disconnected")
			s.events.Emit(model.EventHostDisconnected, b.SessionID, "")
		}
	case protocol.RoleRemote:
		if s.store.DetachRemote(b.RemoteID, peer) {
			log.Debug().
				Str("sessionId", b.SessionID).
				Str("remoteId", b.RemoteID).
				Str("connId", b.ConnID).
				Msg("remote disconnected")
		}
	}
}

// bindHost records the host binding. A host moving to another session gives
// up the previous one first.
func (s *HandshakeService) bindHost(b *Binding, peer store.Peer, sessionID string) {
	if b.Role == protocol.RoleHost && b.SessionID != "" && b.SessionID != sessionID {
		if s.store.MarkHostDisconnected(b.SessionID, peer) {
			s.events.Emit(model.EventHostDisconnected, b.SessionID, "")
		}
	}
	b.Role = protocol.RoleHost
	b.SessionID = sessionID
	b.RemoteID = ""
}

func (s *HandshakeService) bindRemote(b *Binding, peer store.Peer, identity model.RemoteIdentity) {
	if b.Role == protocol.RoleRemote && b.RemoteID != "" && b.RemoteID != identity.ID {
		s.store.DetachRemote(b.RemoteID, peer)
	}
	b.Role = protocol.RoleRemote
	b.SessionID = identity.SessionID
	b.RemoteID = identity.ID
}

func (s *HandshakeService) roleViolation(ctx context.Context, b *Binding, attempted protocol.MessageType) {
	ev := b.auditEvent(audit.EventRoleViolation)
	ev.Details = map[string]interface{}{
		"role":      string(b.Role),
		"attempted": string(attempted),
	}
	audit.Log(ctx, ev)
}

func (s *HandshakeService) sessionInvalid(ctx context.Context, b *Binding, identity model.RemoteIdentity) {
	ev := b.auditEvent(audit.EventSessionInvalid)
	if identity.ID != "" {
		ev.RemoteID = identity.ID
		ev.SessionID = identity.SessionID
		ev.Details = map[string]interface{}{"revoked": identity.Revoked}
	}
	audit.Log(ctx, ev)
}
