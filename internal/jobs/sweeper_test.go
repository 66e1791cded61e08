package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/store"
)

type mockPeer struct {
	id string

	mu         sync.Mutex
	alive      bool
	pings      int
	closed     bool
	terminated bool
}

func newMockPeer() *mockPeer {
	return &mockPeer{id: uuid.NewString(), alive: true}
}

func (p *mockPeer) ID() string { return p.id }

func (p *mockPeer) Send([]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.terminated {
		return errors.New("closed")
	}
	return nil
}

func (p *mockPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *mockPeer) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
}

func (p *mockPeer) Probe() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive {
		return false
	}
	p.alive = false
	p.pings++
	return true
}

func (p *mockPeer) pong() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = true
}

func (p *mockPeer) state() (pings int, closed, terminated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings, p.closed, p.terminated
}

type mockNotifier struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (n *mockNotifier) Emit(kind model.LifecycleEvent, sessionID, remoteID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
}

func (n *mockNotifier) kinds() []model.LifecycleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.LifecycleEvent(nil), n.events...)
}

func newTestStore(clk clock.Clock) *store.Store {
	return store.New(clk, store.Options{
		PairCodeTTL:   time.Minute,
		TrustTokenTTL: 48 * time.Hour,
		SessionTTL:    24 * time.Hour,
	})
}

func TestSweepJob_Sweep(t *testing.T) {
	t.Run("expires pair codes", func(t *testing.T) {
		clk := clock.NewMock()
		st := newTestStore(clk)
		sess := st.CreateSession("host-token", model.HostInfo{})
		_, _, ok := st.IssuePairCode(sess.ID)
		require.True(t, ok)

		job := NewSweepJob(st, &mockNotifier{}, clk, 30*time.Second)
		clk.Add(2 * time.Minute)
		res := job.Sweep()

		assert.Equal(t, 1, res.ExpiredPairCodes)
		_, ok = st.PairCode(sess.ID)
		assert.False(t, ok)
	})

	t.Run("collects abandoned sessions and their remotes", func(t *testing.T) {
		clk := clock.NewMock()
		st := newTestStore(clk)
		notifier := &mockNotifier{}
		host := newMockPeer()
		sess := st.CreateSession("host-token", model.HostInfo{})
		_, ok := st.RebindHostSocket(sess.ID, host, nil)
		require.True(t, ok)
		identity, ok := st.RegisterRemote(sess.ID, "trust-token")
		require.True(t, ok)
		remote := newMockPeer()
		_, ok = st.RebindRemoteSocket(identity.ID, remote, nil)
		require.True(t, ok)
		require.True(t, st.MarkHostDisconnected(sess.ID, host))

		job := NewSweepJob(st, notifier, clk, 30*time.Second)

		clk.Add(23 * time.Hour)
		job.Sweep()
		_, ok = st.Session(sess.ID)
		assert.True(t, ok, "inside the recovery window")

		clk.Add(2 * time.Hour)
		res := job.Sweep()

		assert.Equal(t, []string{sess.ID}, res.AbandonedSessions)
		_, ok = st.Session(sess.ID)
		assert.False(t, ok)
		_, ok = st.LookupSessionByHostToken("host-token")
		assert.False(t, ok)
		_, closed, _ := remote.state()
		assert.True(t, closed)
		assert.Contains(t, notifier.kinds(), model.EventSessionExpired)
	})

	t.Run("expires remote identities", func(t *testing.T) {
		clk := clock.NewMock()
		st := newTestStore(clk)
		notifier := &mockNotifier{}
		host := newMockPeer()
		sess := st.CreateSession("host-token", model.HostInfo{})
		st.RebindHostSocket(sess.ID, host, nil)
		identity, _ := st.RegisterRemote(sess.ID, "trust-token")

		job := NewSweepJob(st, notifier, clk, 30*time.Second)
		clk.Add(49 * time.Hour)
		res := job.Sweep()

		require.Len(t, res.ExpiredRemotes, 1)
		assert.Equal(t, identity.ID, res.ExpiredRemotes[0].ID)
		assert.Equal(t, sess.ID, res.ExpiredRemotes[0].SessionID)
		_, ok := st.LookupRemoteByTrustToken("trust-token")
		assert.False(t, ok)
		assert.Contains(t, notifier.kinds(), model.EventRemoteExpired)
	})

	t.Run("terminates connections that missed a pong", func(t *testing.T) {
		clk := clock.NewMock()
		st := newTestStore(clk)
		responsive, silent := newMockPeer(), newMockPeer()
		st.Track(responsive)
		st.Track(silent)

		job := NewSweepJob(st, nil, clk, 30*time.Second)

		job.Sweep()
		responsive.pong()
		job.Sweep()

		pings, _, terminated := responsive.state()
		assert.Equal(t, 2, pings)
		assert.False(t, terminated)

		pings, _, terminated = silent.state()
		assert.Equal(t, 1, pings)
		assert.True(t, terminated)
	})
}

func TestSweepJob_StartStop(t *testing.T) {
	clk := clock.NewMock()
	st := newTestStore(clk)
	sess := st.CreateSession("host-token", model.HostInfo{})
	st.IssuePairCode(sess.ID)

	job := NewSweepJob(st, nil, clk, 30*time.Second)
	job.Start()
	defer job.Stop()

	clk.Add(2 * time.Minute)

	assert.Eventually(t, func() bool {
		_, ok := st.PairCode(sess.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSweepJob_StopIsIdempotent(t *testing.T) {
	job := NewSweepJob(newTestStore(clock.NewMock()), nil, clock.NewMock(), time.Second)
	job.Start()
	job.Stop()
	job.Stop()
}
