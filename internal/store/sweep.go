package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type SweepResult struct {
	ExpiredPairCodes  int
	AbandonedSessions []string
	ExpiredRemotes    []ExpiredRemote
	Failures          int
}

type ExpiredRemote struct {
	ID        string
	SessionID string
	Revoked   bool
}

// SweepExpired runs the expiry passes in order: pair codes, abandoned
// sessions, then remote identities. A failure on one item is logged and
// counted; the rest of the sweep still runs.
func (s *Store) SweepExpired(now time.Time) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult

	for code, sessionID := range s.pairCodes {
		err := sweepItem(func() {
			sess, ok := s.sessions[sessionID]
			if ok && sess.pairCode == code && !now.After(sess.pairCodeExpiresAt) {
				return
			}
			delete(s.pairCodes, code)
			if ok && sess.pairCode == code {
				sess.pairCode = ""
				sess.pairCodeExpiresAt = time.Time{}
			}
			res.ExpiredPairCodes++
		})
		if err != nil {
			res.Failures++
			log.Error().Err(err).Str("sessionId", sessionID).Msg("sweep: pair code")
		}
	}

	for sessionID, sess := range s.sessions {
		err := sweepItem(func() {
			if sess.host != nil || sess.hostDisconnectedAt.IsZero() {
				return
			}
			if now.Sub(sess.hostDisconnectedAt) <= s.opts.SessionTTL {
				return
			}
			for _, r := range sess.remotes {
				if r.peer != nil {
					safeClose(r.peer)
				}
				s.deleteRemote(r)
			}
			if sess.pairCode != "" {
				delete(s.pairCodes, sess.pairCode)
			}
			delete(s.hostTokens, sess.hostTokenHash)
			delete(s.sessions, sessionID)
			res.AbandonedSessions = append(res.AbandonedSessions, sessionID)
		})
		if err != nil {
			res.Failures++
			log.Error().Err(err).Str("sessionId", sessionID).Msg("sweep: abandoned session")
		}
	}

	for remoteID, r := range s.remotes {
		err := sweepItem(func() {
			if !r.revoked && now.Before(r.expiresAt) {
				return
			}
			if r.peer != nil {
				safeClose(r.peer)
			}
			s.deleteRemote(r)
			res.ExpiredRemotes = append(res.ExpiredRemotes, ExpiredRemote{
				ID:        remoteID,
				SessionID: r.sessionID,
				Revoked:   r.revoked,
			})
		})
		if err != nil {
			res.Failures++
			log.Error().Err(err).Str("remoteId", remoteID).Msg("sweep: remote identity")
		}
	}

	return res
}

// ProbeConnections terminates every tracked connection that did not answer
// the previous ping and pings the others. The terminated connections run
// their normal close cleanup from their own goroutines.
func (s *Store) ProbeConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	terminated := 0
	for id, p := range s.peers {
		err := sweepItem(func() {
			if p.Probe() {
				return
			}
			p.Terminate()
			terminated++
		})
		if err != nil {
			log.Error().Err(err).Str("connId", id).Msg("sweep: liveness probe")
		}
	}
	return terminated
}

func sweepItem(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
