package service

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/protocol"
	"github.com/remotecast/relay-server-go/internal/store"
)

type fakePeer struct {
	id string

	mu         sync.Mutex
	frames     [][]byte
	closed     bool
	terminated bool
	failSend   bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{id: uuid.NewString()}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend || p.closed || p.terminated {
		return errors.New("peer unavailable")
	}
	p.frames = append(p.frames, payload)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
}

func (p *fakePeer) Probe() bool { return true }

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// take returns and clears every frame received so far, decoded.
func (p *fakePeer) take(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]map[string]any, 0, len(p.frames))
	for _, f := range p.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	p.frames = nil
	return out
}

// takeOne asserts exactly one frame arrived and returns it.
func (p *fakePeer) takeOne(t *testing.T) map[string]any {
	t.Helper()
	frames := p.take(t)
	require.Len(t, frames, 1)
	return frames[0]
}

type recordedEvent struct {
	Kind      model.LifecycleEvent
	SessionID string
	RemoteID  string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Emit(kind model.LifecycleEvent, sessionID, remoteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Kind: kind, SessionID: sessionID, RemoteID: remoteID})
}

func (r *eventRecorder) kinds() []model.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LifecycleEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	clock  *clock.Mock
	store  *store.Store
	events *eventRecorder
	svc    *HandshakeService
	router *Router
}

func newFixture() *fixture {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	st := store.New(clk, store.DefaultOptions())
	events := &eventRecorder{}
	return &fixture{
		clock:  clk,
		store:  st,
		events: events,
		svc:    NewHandshakeService(st, events),
		router: NewRouter(st),
	}
}

func mustParse(t *testing.T, v any) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	msg, ok := protocol.Parse(raw)
	require.True(t, ok, "frame should be valid: %s", raw)
	return msg
}
