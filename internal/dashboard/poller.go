package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/okrama/emailscout/pkg/log"
)

const (
	defaultJobsInterval  = 5 * time.Second
	defaultStatsInterval = 10 * time.Second
)

// Poller keeps the Store approximately fresh: a jobs loop and a stats
// loop, each with an immediate fetch on start followed by fixed-interval
// ticks. Hiding the view cancels the timers entirely; becoming visible
// again fires one immediate fetch and restarts them.
//
// Responses carry a monotonic sequence number taken at request time. A
// slow response that arrives after a newer one has been applied is
// discarded, so the store never moves backwards.
type Poller struct {
	client *Client
	store  *Store

	jobsInterval  time.Duration
	statsInterval time.Duration

	// Notify surfaces one jobs-fetch failure to the user; subsequent
	// failures stay quiet until a fetch succeeds again. Optional.
	Notify func(err error)

	mu            sync.Mutex
	visible       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	jobsSeq       uint64
	jobsApplied   uint64
	statsSeq      uint64
	statsApplied  uint64
	failureShown  bool
}

type PollerOption func(*Poller)

func WithJobsInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.jobsInterval = d }
}

func WithStatsInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.statsInterval = d }
}

func NewPoller(client *Client, store *Store, opts ...PollerOption) *Poller {
	p := &Poller{
		client:        client,
		store:         store,
		jobsInterval:  defaultJobsInterval,
		statsInterval: defaultStatsInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling as if the view just became visible.
func (p *Poller) Start() {
	p.SetVisible(true)
}

// Stop cancels all polling. Equivalent to the view going away.
func (p *Poller) Stop() {
	p.SetVisible(false)
}

// SetVisible reacts to page visibility. Transitioning to hidden cancels
// the repeat timers outright; transitioning to visible issues an
// immediate fetch of both feeds and restarts the timers.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	if visible == p.visible {
		p.mu.Unlock()
		return
	}
	p.visible = visible

	if !visible {
		cancel := p.cancel
		p.cancel = nil
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(2)
	p.mu.Unlock()

	go p.loop(ctx, p.jobsInterval, p.fetchJobs)
	go p.loop(ctx, p.statsInterval, p.fetchStats)
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, fetch func(context.Context)) {
	defer p.wg.Done()

	fetch(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetch(ctx)
		}
	}
}

func (p *Poller) fetchJobs(ctx context.Context) {
	p.mu.Lock()
	p.jobsSeq++
	seq := p.jobsSeq
	p.mu.Unlock()

	list, err := p.client.ListJobs(ctx)
	if err != nil {
		p.mu.Lock()
		shown := p.failureShown
		p.failureShown = true
		notify := p.Notify
		p.mu.Unlock()

		log.Warn("Jobs poll failed: %v", err)
		if !shown && notify != nil {
			notify(err)
		}
		return
	}

	p.mu.Lock()
	stale := seq <= p.jobsApplied
	if !stale {
		p.jobsApplied = seq
	}
	p.failureShown = false
	p.mu.Unlock()
	if stale {
		log.Debug("Discarding stale jobs response (seq %d)", seq)
		return
	}
	p.store.Dispatch(SetJobs{Jobs: list})
}

func (p *Poller) fetchStats(ctx context.Context) {
	p.mu.Lock()
	p.statsSeq++
	seq := p.statsSeq
	p.mu.Unlock()

	stats, err := p.client.Stats(ctx)
	if err != nil {
		// Stats are decorative; failures never reach the user.
		log.Warn("Stats poll failed: %v", err)
		return
	}

	p.mu.Lock()
	stale := seq <= p.statsApplied
	if !stale {
		p.statsApplied = seq
	}
	p.mu.Unlock()
	if stale {
		return
	}
	p.store.Dispatch(SetStats{Stats: stats})
}
