// Package coldstart defers an action until a dependency becomes available,
// retrying on a linear backoff with a fixed budget.
//
// The typical dependency is the active server configuration, which may not
// be loaded yet when an external surface (in-car display) connects during
// process cold start.
package coldstart

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRetries bounds the retry budget.
	DefaultMaxRetries = 10
	// DefaultStep scales the backoff: attempt n waits n * step.
	DefaultStep = 500 * time.Millisecond
)

// Gate runs an action once its dependency reports ready, retrying a
// bounded number of times. When the budget runs out it gives up silently;
// the dependency becoming ready later must be surfaced through a separate
// change notification, not through more retries.
type Gate struct {
	mu        sync.Mutex
	attempts  int
	scheduled bool
	timer     clockwork.Timer

	clock      clockwork.Clock
	maxRetries int
	step       time.Duration

	ready  func() bool
	action func()

	log zerolog.Logger
}

// New creates a gate for the given dependency probe and action.
func New(clock clockwork.Clock, ready func() bool, action func(), log zerolog.Logger) *Gate {
	return &Gate{
		clock:      clock,
		maxRetries: DefaultMaxRetries,
		step:       DefaultStep,
		ready:      ready,
		action:     action,
		log:        log.With().Str("component", "coldstart").Logger(),
	}
}

// Try runs the action immediately if the dependency is ready, otherwise
// schedules a retry. Safe to call repeatedly: while a retry is already
// scheduled no additional timer is stacked.
func (g *Gate) Try() {
	g.mu.Lock()

	if g.ready() {
		g.mu.Unlock()
		g.action()
		return
	}

	if g.scheduled || g.attempts >= g.maxRetries {
		g.mu.Unlock()
		return
	}

	g.attempts++
	delay := time.Duration(g.attempts) * g.step
	g.scheduled = true

	g.log.Debug().
		Int("attempt", g.attempts).
		Int("budget", g.maxRetries).
		Dur("delay", delay).
		Msg("dependency not ready, scheduling retry")

	g.timer = g.clock.AfterFunc(delay, func() {
		g.mu.Lock()
		g.scheduled = false
		g.mu.Unlock()
		g.Try()
	})
	g.mu.Unlock()
}

// Stop cancels any pending retry.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
	g.scheduled = false
}

// Attempts returns how many retries have been scheduled so far.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
