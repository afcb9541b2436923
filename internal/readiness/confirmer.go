// Package readiness confirms that audio output has actually begun before
// signaling dependent UI, e.g. before pushing a now-playing screen.
package readiness

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/llehouerou/shelf/internal/engine"
)

const (
	// DefaultInterval is the poll cadence.
	DefaultInterval = 300 * time.Millisecond
	// DefaultTimeout caps how long a poll may run before giving up and
	// invoking the continuation anyway: a possibly-premature screen beats
	// a silently absent one.
	DefaultTimeout = 15 * time.Second
)

// Confirmer polls until the engine is really producing output and the
// now-playing projection is populated, then fires a continuation.
//
// "Really producing output" means transport status Playing specifically.
// Buffering has rate > 0 but no audible sound yet and must not count.
//
// At most one poll is outstanding per Confirmer; starting a new one
// cancels the prior poll without firing its continuation.
type Confirmer struct {
	mu     sync.Mutex
	cancel chan struct{}

	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration

	status  func() engine.Status
	hasInfo func() bool

	log zerolog.Logger
}

// New creates a confirmer over the given status and projection probes.
func New(clock clockwork.Clock, status func() engine.Status, hasInfo func() bool, log zerolog.Logger) *Confirmer {
	return &Confirmer{
		clock:    clock,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		status:   status,
		hasInfo:  hasInfo,
		log:      log.With().Str("component", "readiness").Logger(),
	}
}

// Start begins a poll cycle, canceling any in-flight one. The continuation
// receives timedOut=false when both conditions were confirmed before the
// timeout, true when the timeout elapsed first; it is invoked exactly once
// either way, unless the cycle is canceled.
func (c *Confirmer) Start(onReady func(timedOut bool)) {
	c.mu.Lock()
	if c.cancel != nil {
		close(c.cancel)
	}
	cancel := make(chan struct{})
	c.cancel = cancel
	c.mu.Unlock()

	// Created here rather than in the goroutine so the ticker is
	// registered with the clock before Start returns.
	ticker := c.clock.NewTicker(c.interval)
	go c.poll(cancel, ticker, onReady)
}

// Cancel stops any in-flight poll without firing its continuation.
func (c *Confirmer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
}

func (c *Confirmer) poll(cancel chan struct{}, ticker clockwork.Ticker, onReady func(timedOut bool)) {
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-cancel:
			return
		case <-ticker.Chan():
			// A cancellation and a tick can race; cancellation wins
			select {
			case <-cancel:
				return
			default:
			}

			elapsed += c.interval
			playing := c.status() == engine.Playing
			hasInfo := c.hasInfo()

			c.log.Debug().
				Dur("elapsed", elapsed).
				Bool("playing", playing).
				Bool("has_info", hasInfo).
				Msg("readiness poll tick")

			switch {
			case playing && hasInfo:
				c.finish(cancel)
				onReady(false)
				return
			case elapsed >= c.timeout:
				c.log.Warn().Dur("elapsed", elapsed).Msg("readiness poll timed out, proceeding anyway")
				c.finish(cancel)
				onReady(true)
				return
			}
		}
	}
}

func (c *Confirmer) finish(cancel chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == cancel {
		c.cancel = nil
	}
}
