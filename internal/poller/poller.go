// Package poller implements the client-side polling loop: a cancellable
// scheduler that calls the sync feed, tracks connectivity and backs off on
// repeated failures.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Clock abstracts timer scheduling so tests drive the loop without real
// wall-clock waits.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock schedules on the wall clock.
func RealClock() Clock { return realClock{} }

// Fetch performs one poll cycle and reports whether the observed state
// changed since the previous cycle.
type Fetch func(ctx context.Context) (changed bool, err error)

// OnChange reacts to an observed change. The poller triggers a full re-fetch
// of the affected snapshot through this callback rather than patching state
// incrementally.
type OnChange func(ctx context.Context)

type Config struct {
	// Interval is the base poll cadence. Detail views use a shorter one
	// than list views; staleness tolerance differs by context.
	Interval time.Duration
	// MaxBackoff caps the doubled interval under repeated failures.
	MaxBackoff time.Duration
	// OfflineThreshold is how many consecutive failures flip the
	// connectivity indicator to offline.
	OfflineThreshold int
	// PollTimeout bounds a single fetch.
	PollTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 4 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.OfflineThreshold <= 0 {
		c.OfflineThreshold = 2
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = c.Interval
	}
}

// Poller is a scheduled, cancellable polling loop. One Poller belongs to one
// view; stopping it cancels any in-flight request and stops the timer, so a
// torn-down view never keeps polling.
type Poller struct {
	cfg      Config
	clock    Clock
	fetch    Fetch
	onChange OnChange

	mu        sync.Mutex
	connected bool
	failures  int
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, clock Clock, fetch Fetch, onChange OnChange) *Poller {
	cfg.defaults()
	if clock == nil {
		clock = realClock{}
	}
	return &Poller{
		cfg:       cfg,
		clock:     clock,
		fetch:     fetch,
		onChange:  onChange,
		connected: true,
	}
}

// Connected reports the connectivity indicator surfaced to the UI:
// "autoupdate" while polls succeed, "offline" after the failure threshold.
func (p *Poller) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Start launches the loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop cancels the loop and waits until it has fully wound down. After Stop
// returns, no further fetches will be issued.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	interval := p.cfg.Interval
	for {
		pollCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
		changed, err := p.fetch(pollCtx)
		cancel()

		if ctx.Err() != nil {
			// Stopped mid-flight; discard whatever the fetch returned.
			return
		}

		if err != nil {
			interval = p.recordFailure(interval)
		} else {
			interval = p.recordSuccess()
			if changed && p.onChange != nil {
				p.onChange(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(interval):
		}
	}
}

func (p *Poller) recordFailure(interval time.Duration) time.Duration {
	p.mu.Lock()
	p.failures++
	if p.failures >= p.cfg.OfflineThreshold && p.connected {
		p.connected = false
		log.Debugf("Poller offline after %d consecutive failures", p.failures)
	}
	p.mu.Unlock()

	// Back off rather than hammering a struggling server at full cadence.
	interval *= 2
	if interval > p.cfg.MaxBackoff {
		interval = p.cfg.MaxBackoff
	}
	return interval
}

func (p *Poller) recordSuccess() time.Duration {
	p.mu.Lock()
	if !p.connected {
		log.Debug("Poller back online")
	}
	p.failures = 0
	p.connected = true
	p.mu.Unlock()
	return p.cfg.Interval
}
