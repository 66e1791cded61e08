package store

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/model"
)

const (
	// No O, I, 0 or 1: codes are read off a screen and typed by hand.
	PairCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	PairCodeLength = 6

	maxCodeAttempts = 10
)

// IssuePairCode replaces any outstanding code of the session with a fresh one.
func (s *Store) IssuePairCode(sessionID string) (string, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", 0, false
	}

	if sess.pairCode != "" {
		delete(s.pairCodes, sess.pairCode)
		sess.pairCode = ""
	}

	var code string
	for attempts := 0; attempts < maxCodeAttempts; attempts++ {
		code = s.generateCode()
		if _, taken := s.pairCodes[code]; !taken {
			break
		}
		code = ""
	}
	if code == "" {
		log.Error().Str("sessionId", sessionID).Msg("could not allocate a unique pair code")
		return "", 0, false
	}

	sess.pairCode = code
	sess.pairCodeExpiresAt = s.clock.Now().Add(s.opts.PairCodeTTL)
	s.pairCodes[code] = sessionID

	return code, s.opts.PairCodeTTL, true
}

// ConsumePairCode looks the code up and deletes it in one step, so of any
// number of concurrent exchanges for the same code at most one succeeds.
// Expired codes are deleted and reported absent.
func (s *Store) ConsumePairCode(code string) (model.Session, bool) {
	code = NormalizePairCode(code)
	if code == "" {
		return model.Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, ok := s.pairCodes[code]
	if !ok {
		return model.Session{}, false
	}
	delete(s.pairCodes, code)

	sess, ok := s.sessions[sessionID]
	if !ok || sess.pairCode != code {
		return model.Session{}, false
	}

	expired := s.clock.Now().After(sess.pairCodeExpiresAt)
	sess.pairCode = ""
	sess.pairCodeExpiresAt = time.Time{}
	if expired {
		return model.Session{}, false
	}

	return sess.snapshot(), true
}

// PairCode returns the session's outstanding code, if any.
func (s *Store) PairCode(sessionID string) (model.PairCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.pairCode == "" {
		return model.PairCode{}, false
	}
	return model.PairCode{
		Code:      sess.pairCode,
		SessionID: sess.id,
		ExpiresAt: sess.pairCodeExpiresAt,
	}, true
}

func NormalizePairCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generatePairCode() string {
	chars := []byte(PairCodeChars)
	code := make([]byte, PairCodeLength)

	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		code[i] = chars[n.Int64()]
	}

	return string(code)
}
