// Package store is the in-memory registry of sessions, pair codes and remote
// identities. Every read and write of shared relay state goes through a Store
// method, and every method holds the same mutex for its whole duration, so
// callers only ever observe a fully applied operation.
package store

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/util"
)

// Peer is the store's handle on a live connection. Implementations must not
// block: Send and Close are called with the store lock held.
type Peer interface {
	ID() string
	// Send queues a frame. An error means the frame was not queued and the
	// peer is treated as offline.
	Send(payload []byte) error
	// Close starts a graceful close.
	Close()
	// Terminate drops the connection without a close handshake.
	Terminate()
	// Probe reports whether the peer answered the previous ping and, if it
	// did, issues the next one.
	Probe() bool
}

type Options struct {
	PairCodeTTL   time.Duration
	TrustTokenTTL time.Duration
	SessionTTL    time.Duration
}

func DefaultOptions() Options {
	return Options{
		PairCodeTTL:   60 * time.Second,
		TrustTokenTTL: 30 * 24 * time.Hour,
		SessionTTL:    24 * time.Hour,
	}
}

type session struct {
	id                 string
	hostTokenHash      string
	host               Peer
	info               model.HostInfo
	pairCode           string
	pairCodeExpiresAt  time.Time
	remotes            map[string]*remote
	createdAt          time.Time
	hostDisconnectedAt time.Time
}

func (s *session) snapshot() model.Session {
	out := model.Session{
		ID:          s.id,
		HostInfo:    s.info,
		HostOnline:  s.host != nil,
		HasPairCode: s.pairCode != "",
		RemoteCount: len(s.remotes),
		CreatedAt:   s.createdAt,
	}
	if !s.hostDisconnectedAt.IsZero() {
		t := s.hostDisconnectedAt
		out.HostDisconnectedAt = &t
	}
	return out
}

type remote struct {
	id             string
	sessionID      string
	trustTokenHash string
	peer           Peer
	expiresAt      time.Time
	pairedAt       time.Time
	revoked        bool
}

func (r *remote) snapshot() model.RemoteIdentity {
	return model.RemoteIdentity{
		ID:        r.id,
		SessionID: r.sessionID,
		Online:    r.peer != nil,
		Revoked:   r.revoked,
		ExpiresAt: r.expiresAt,
		PairedAt:  r.pairedAt,
	}
}

type Store struct {
	mu    sync.Mutex
	clock clock.Clock
	opts  Options

	sessions    map[string]*session // sessionID -> session
	hostTokens  map[string]string   // host token hash -> sessionID
	pairCodes   map[string]string   // code -> sessionID
	remotes     map[string]*remote  // remote identity ID -> identity
	trustTokens map[string]string   // trust token hash -> remote identity ID
	peers       map[string]Peer     // every open connection, bound or not

	generateCode func() string
}

func New(clk clock.Clock, opts Options) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		clock:        clk,
		opts:         opts,
		sessions:     make(map[string]*session),
		hostTokens:   make(map[string]string),
		pairCodes:    make(map[string]string),
		remotes:      make(map[string]*remote),
		trustTokens:  make(map[string]string),
		peers:        make(map[string]Peer),
		generateCode: generatePairCode,
	}
}

func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) Options() Options {
	return s.opts
}

// Track registers an open connection for liveness probing.
func (s *Store) Track(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.ID()] = p
}

func (s *Store) Untrack(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.peers[p.ID()]; ok && cur == p {
		delete(s.peers, p.ID())
	}
}

// CreateSession allocates a session for hostToken. The session starts with no
// host socket; RebindHostSocket attaches one. Until then it is treated as a
// host that has just gone offline.
func (s *Store) CreateSession(hostToken string, info model.HostInfo) model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	sess := &session{
		id:                 uuid.NewString(),
		hostTokenHash:      util.HashToken(hostToken),
		info:               info,
		remotes:            make(map[string]*remote),
		createdAt:          now,
		hostDisconnectedAt: now,
	}
	s.sessions[sess.id] = sess
	s.hostTokens[sess.hostTokenHash] = sess.id

	return sess.snapshot()
}

func (s *Store) LookupSessionByHostToken(hostToken string) (model.Session, bool) {
	if hostToken == "" {
		return model.Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.hostTokens[util.HashToken(hostToken)]
	if !ok {
		return model.Session{}, false
	}
	sess, ok := s.sessions[id]
	if !ok {
		return model.Session{}, false
	}
	return sess.snapshot(), true
}

func (s *Store) Session(sessionID string) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	return sess.snapshot(), true
}

// RebindHostSocket makes p the session's host socket, closing the previous
// one if it is a different connection. welcome is queued on p before any
// other session traffic can reach it. Online remotes are told the host is
// back when the session had no host socket.
func (s *Store) RebindHostSocket(sessionID string, p Peer, welcome []byte) (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}

	wasOffline := sess.host == nil
	if sess.host != nil && sess.host != p {
		log.Info().
			Str("sessionId", sessionID).
			Str("staleConnId", sess.host.ID()).
			Str("connId", p.ID()).
			Msg("host socket replaced")
		safeClose(sess.host)
	}

	sess.host = p
	sess.hostDisconnectedAt = time.Time{}

	if welcome != nil {
		send(p, welcome)
	}
	if wasOffline {
		for _, r := range sess.remotes {
			if r.peer != nil {
				send(r.peer, hostReconnectedFrame)
			}
		}
	}

	return sess.snapshot(), true
}

// MarkHostDisconnected clears the host socket if p is still the current one,
// stamps the disconnect time and tells online remotes. The session itself is
// kept so the host can come back with its host token.
func (s *Store) MarkHostDisconnected(sessionID string, p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.host != p {
		return false
	}

	sess.host = nil
	sess.hostDisconnectedAt = s.clock.Now()

	for _, r := range sess.remotes {
		if r.peer != nil {
			send(r.peer, hostDisconnectedFrame)
		}
	}
	return true
}

// SendToHost queues payload on the session's host socket. It reports false
// when the session is gone, the host is offline, or the send failed.
func (s *Store) SendToHost(sessionID string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	return sendToHost(sess, payload)
}

// SendToRemotes queues payload on the named remote, or on every online remote
// of the session when remoteID is empty. It returns the number of sockets the
// frame was queued on.
func (s *Store) SendToRemotes(sessionID, remoteID string, payload []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0
	}
	return sendToRemotes(sess, remoteID, payload)
}

// RelayFromRemote forwards payload to the host of the identity's session, but
// only while p is still the identity's socket.
func (s *Store) RelayFromRemote(remoteID string, p Peer, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.remotes[remoteID]
	if !ok || r.peer != p {
		return false
	}
	sess, ok := s.sessions[r.sessionID]
	if !ok {
		return false
	}
	return sendToHost(sess, payload)
}

// RelayFromHost forwards payload to the session's remotes, but only while p
// is still the session's host socket.
func (s *Store) RelayFromHost(sessionID string, p Peer, remoteID string, payload []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.host != p {
		return 0
	}
	return sendToRemotes(sess, remoteID, payload)
}

func sendToHost(sess *session, payload []byte) bool {
	if sess.host == nil {
		return false
	}
	return send(sess.host, payload)
}

func sendToRemotes(sess *session, remoteID string, payload []byte) int {
	if remoteID != "" {
		r, ok := sess.remotes[remoteID]
		if !ok || r.peer == nil {
			return 0
		}
		if send(r.peer, payload) {
			return 1
		}
		return 0
	}

	delivered := 0
	for _, r := range sess.remotes {
		if r.peer != nil && send(r.peer, payload) {
			delivered++
		}
	}
	return delivered
}

// CloseAll closes every tracked connection. Used on shutdown.
func (s *Store) CloseAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.peers {
		safeClose(p)
	}
	return len(s.peers)
}

func (s *Store) Stats() model.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.Stats{
		Sessions:    len(s.sessions),
		Remotes:     len(s.remotes),
		PairCodes:   len(s.pairCodes),
		Connections: len(s.peers),
	}
	for _, sess := range s.sessions {
		if sess.host != nil {
			st.HostsOnline++
		}
	}
	for _, r := range s.remotes {
		if r.peer != nil {
			st.RemotesOnline++
		}
	}
	return st
}

func send(p Peer, payload []byte) bool {
	if err := p.Send(payload); err != nil {
		log.Debug().Err(err).Str("connId", p.ID()).Msg("send failed, treating peer as offline")
		return false
	}
	return true
}

func safeClose(p Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("connId", p.ID()).Msg("closing peer panicked")
		}
	}()
	p.Close()
}
