package jobs

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/model"
	"github.com/remotecast/relay-server-go/internal/store"
)

// Notifier receives the lifecycle events the sweeper causes.
type Notifier interface {
	Emit(kind model.LifecycleEvent, sessionID, remoteID string)
}

// SweepJob expires pair codes, abandoned sessions and remote identities, then
// checks connection liveness, once per interval.
type SweepJob struct {
	store    *store.Store
	events   Notifier
	clock    clock.Clock
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweepJob(st *store.Store, events Notifier, clk clock.Clock, interval time.Duration) *SweepJob {
	if clk == nil {
		clk = clock.New()
	}
	return &SweepJob{
		store:    st,
		events:   events,
		clock:    clk,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	ticker := j.clock.Ticker(j.interval)
	j.wg.Add(1)
	go j.run(ticker)
	log.Info().Dur("interval", j.interval).Msg("sweep job started")
}

// Stop ends the job and waits for an in-flight sweep to finish.
func (j *SweepJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run(ticker *clock.Ticker) {
	defer j.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one cycle.
func (j *SweepJob) Sweep() store.SweepResult {
	res := j.store.SweepExpired(j.store.Now())

	if j.events != nil {
		for _, id := range res.AbandonedSessions {
			j.events.Emit(model.EventSessionExpired, id, "")
		}
		for _, r := range res.ExpiredRemotes {
			j.events.Emit(model.EventRemoteExpired, r.SessionID, r.ID)
		}
	}

	terminated := j.store.ProbeConnections()

	if res.ExpiredPairCodes > 0 || len(res.AbandonedSessions) > 0 || len(res.ExpiredRemotes) > 0 || terminated > 0 {
		log.Info().
			Int("pairCodes", res.ExpiredPairCodes).
			Int("sessions", len(res.AbandonedSessions)).
			Int("remotes", len(res.ExpiredRemotes)).
			Int("deadConnections", terminated).
			Msg("sweep completed")
	}
	if res.Failures > 0 {
		log.Error().Int("failures", res.Failures).Msg("sweep skipped items after failures")
	}

	return res
}
