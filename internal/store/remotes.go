package store

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/protocol"
	"github.com/remotecast/relay-server-go/internal/util"
)

var (
	hostDisconnectedFrame = protocol.Bare(protocol.TypeHostDisconnected)
	hostReconnectedFrame  = protocol.Bare(protocol.TypeHostReconnected)
)

// RegisterRemote mints a remote identity for trustToken inside the session.
// Its expiry starts now.
func (s *Store) RegisterRemote(sessionID, trustToken string) (model.RemoteIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.RemoteIdentity{}, false
	}

	now := s.clock.Now()
	r := &remote{
		id:             uuid.NewString(),
		sessionID:      sessionID,
		trustTokenHash: util.HashToken(trustToken),
		expiresAt:      now.Add(s.opts.TrustTokenTTL),
		pairedAt:       now,
	}
	s.remotes[r.id] = r
	s.trustTokens[r.trustTokenHash] = r.id
	sess.remotes[r.id] = r

	return r.snapshot(), true
}

// LookupRemoteByTrustToken returns the identity for the token, including
// revoked or expired ones; callers decide with RemoteIdentity.Usable.
func (s *Store) LookupRemoteByTrustToken(trustToken string) (model.RemoteIdentity, bool) {
	if trustToken == "" {
		return model.RemoteIdentity{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.trustTokens[util.HashToken(trustToken)]
	if !ok {
		return model.RemoteIdentity{}, false
	}
	r, ok := s.remotes[id]
	if !ok {
		return model.RemoteIdentity{}, false
	}
	return r.snapshot(), true
}

// RebindRemoteSocket makes p the identity's socket, closing the previous one
// if it is a different connection. It fails when the identity is gone,
// revoked, expired, or its session no longer exists. welcome is queued on p
// first; the host, if online, is then sent REMOTE_JOINED.
func (s *Store) RebindRemoteSocket(remoteID string, p Peer, welcome []byte) (model.RemoteIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.remotes[remoteID]
	if !ok {
		return model.RemoteIdentity{}, false
	}
	if !r.snapshot().Usable(s.clock.Now()) {
		return model.RemoteIdentity{}, false
	}
	sess, ok := s.sessions[r.sessionID]
	if !ok {
		return model.RemoteIdentity{}, false
	}

	if r.peer != nil && r.peer != p {
		log.Info().
			Str("sessionId", r.sessionID).
			Str("remoteId", r.id).
			Str("staleConnId", r.peer.ID()).
			Str("connId", p.ID()).
			Msg("remote socket replaced")
		safeClose(r.peer)
	}
	r.peer = p

	if welcome != nil {
		send(p, welcome)
	}
	if sess.host != nil {
		send(sess.host, protocol.NewRemoteJoined(r.id))
	}

	return r.snapshot(), true
}

// DetachRemote clears the identity's socket if p is still the current one.
// The identity survives until its own expiry.
func (s *Store) DetachRemote(remoteID string, p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.remotes[remoteID]
	if !ok || r.peer != p {
		return false
	}
	r.peer = nil
	return true
}

// RevokeRemotes revokes one identity of the session, or all of them when
// remoteID is empty, and closes their live sockets. The sweeper deletes them
// on its next tick. It returns the IDs that were newly revoked.
func (s *Store) RevokeRemotes(sessionID, remoteID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	var targets []*remote
	if remoteID != "" {
		if r, ok := sess.remotes[remoteID]; ok {
			targets = append(targets, r)
		}
	} else {
		for _, r := range sess.remotes {
			targets = append(targets, r)
		}
	}

	var revoked []string
	for _, r := range targets {
		if r.revoked {
			continue
		}
		r.revoked = true
		if r.peer != nil {
			safeClose(r.peer)
			r.peer = nil
		}
		revoked = append(revoked, r.id)
	}
	return revoked
}

// deleteRemote drops the identity from every index. Caller holds s.mu.
func (s *Store) deleteRemote(r *remote) {
	delete(s.remotes, r.id)
	if cur, ok := s.trustTokens[r.trustTokenHash]; ok && cur == r.id {
		delete(s.trustTokens, r.trustTokenHash)
	}
	if sess, ok := s.sessions[r.sessionID]; ok {
		delete(sess.remotes, r.id)
	}
}
