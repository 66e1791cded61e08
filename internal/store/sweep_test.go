package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/relay-server-go/internal/model"
)

type panickyPeer struct {
	*testPeer
}

func (p panickyPeer) Probe() bool { panic("probe exploded") }

func TestSweepExpired(t *testing.T) {
	t.Run("nothing to do", func(t *testing.T) {
		s, clk := newTestStore()
		hostedSession(t, s, "tok", newTestPeer())

		res := s.SweepExpired(clk.Now())

		assert.Zero(t, res.ExpiredPairCodes)
		assert.Empty(t, res.AbandonedSessions)
		assert.Empty(t, res.ExpiredRemotes)
	})

	t.Run("live code survives, expired code goes", func(t *testing.T) {
		s, clk := newTestStore()
		a := hostedSession(t, s, "a", newTestPeer())
		b := hostedSession(t, s, "b", newTestPeer())
		s.IssuePairCode(a.ID)
		clk.Add(45 * time.Second)
		s.IssuePairCode(b.ID)
		clk.Add(30 * time.Second)

		res := s.SweepExpired(clk.Now())

		assert.Equal(t, 1, res.ExpiredPairCodes)
		_, ok := s.PairCode(a.ID)
		assert.False(t, ok)
		_, ok = s.PairCode(b.ID)
		assert.True(t, ok)
	})

	t.Run("online host keeps the session alive", func(t *testing.T) {
		s, clk := newTestStore()
		sess := hostedSession(t, s, "tok", newTestPeer())

		clk.Add(72 * time.Hour)
		res := s.SweepExpired(clk.Now())

		assert.Empty(t, res.AbandonedSessions)
		_, ok := s.Session(sess.ID)
		assert.True(t, ok)
	})

	t.Run("session that never bound a host is abandoned after the window", func(t *testing.T) {
		s, clk := newTestStore()
		sess := s.CreateSession("tok", model.HostInfo{})

		clk.Add(24*time.Hour + time.Second)
		res := s.SweepExpired(clk.Now())

		assert.Equal(t, []string{sess.ID}, res.AbandonedSessions)
	})

	t.Run("abandoned session takes its code and remotes with it", func(t *testing.T) {
		s, clk := newTestStore()
		host := newTestPeer()
		sess := hostedSession(t, s, "tok", host)
		identity, _ := s.RegisterRemote(sess.ID, "trust")
		remote := newTestPeer()
		s.RebindRemoteSocket(identity.ID, remote, nil)
		s.MarkHostDisconnected(sess.ID, host)
		clk.Add(24*time.Hour + time.Minute)
		s.generateCode = func() string { return "LATE22" }
		// A code issued late still belongs to the abandoned session.
		s.IssuePairCode(sess.ID)

		res := s.SweepExpired(clk.Now())

		assert.Equal(t, []string{sess.ID}, res.AbandonedSessions)
		assert.Empty(t, res.ExpiredRemotes, "removed with the session")
		assert.True(t, remote.isClosed())
		_, ok := s.ConsumePairCode("LATE22")
		assert.False(t, ok)
		_, ok = s.LookupRemoteByTrustToken("trust")
		assert.False(t, ok)
		assert.Equal(t, model.Stats{}, s.Stats())
	})

	t.Run("revoked remotes are deleted on the next pass", func(t *testing.T) {
		s, clk := newTestStore()
		sess := hostedSession(t, s, "tok", newTestPeer())
		identity, _ := s.RegisterRemote(sess.ID, "trust")
		s.RevokeRemotes(sess.ID, "")

		res := s.SweepExpired(clk.Now())

		require.Len(t, res.ExpiredRemotes, 1)
		assert.Equal(t, ExpiredRemote{ID: identity.ID, SessionID: sess.ID, Revoked: true}, res.ExpiredRemotes[0])
		got, _ := s.Session(sess.ID)
		assert.Zero(t, got.RemoteCount)
	})
}

func TestProbeConnections(t *testing.T) {
	t.Run("terminates silent peers", func(t *testing.T) {
		s, _ := newTestStore()
		live, silent := newTestPeer(), newTestPeer()
		silent.alive = false
		s.Track(live)
		s.Track(silent)

		assert.Equal(t, 1, s.ProbeConnections())
		assert.False(t, live.terminated)
		assert.True(t, silent.terminated)

		// live never answered the first probe.
		assert.Equal(t, 2, s.ProbeConnections())
	})

	t.Run("a panicking peer does not stop the pass", func(t *testing.T) {
		s, _ := newTestStore()
		bad := panickyPeer{newTestPeer()}
		silent := newTestPeer()
		silent.alive = false
		s.Track(bad)
		s.Track(silent)

		assert.Equal(t, 1, s.ProbeConnections())
		assert.True(t, silent.terminated)
	})
}
