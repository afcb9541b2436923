// Package sleeptimer pauses playback after a countdown elapses or the
// current chapter ends. At most one timer is armed per player; arming a
// new one replaces the previous.
package sleeptimer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultFadeWindow is the trailing stretch over which volume ramps down
// before the expiry pause, when fading is enabled.
const DefaultFadeWindow = 60 * time.Second

const tickInterval = time.Second

// Mode is the timer state.
type Mode int

const (
	Off Mode = iota
	Countdown
	ChapterBound
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Countdown:
		return "countdown"
	case ChapterBound:
		return "chapter"
	default:
		return "unknown"
	}
}

// Player is the playback surface the timer acts on.
type Player interface {
	Pause()
	Position() time.Duration
	SetVolume(level float64)
	Volume() float64
}

// Timer counts down wall time or watches for a chapter boundary, then
// pauses the player. With fading enabled the volume ramps down over the
// trailing window instead of cutting out.
type Timer struct {
	mu     sync.Mutex
	mode   Mode
	cancel chan struct{}

	remaining  time.Duration // countdown only
	stopAt     time.Duration // chapter bound only
	baseVolume float64
	fading     bool

	clock      clockwork.Clock
	player     Player
	fadeOut    bool
	fadeWindow time.Duration
	onExpire   func()

	log zerolog.Logger
}

// New creates an unarmed timer. onExpire is invoked after the expiry
// pause, outside the timer's lock; it may be nil.
func New(clock clockwork.Clock, player Player, fadeOut bool, fadeWindow time.Duration, onExpire func(), log zerolog.Logger) *Timer {
	if fadeWindow <= 0 {
		fadeWindow = DefaultFadeWindow
	}
	return &Timer{
		clock:      clock,
		player:     player,
		fadeOut:    fadeOut,
		fadeWindow: fadeWindow,
		onExpire:   onExpire,
		log:        log.With().Str("component", "sleeptimer").Logger(),
	}
}

// SetCountdown arms a countdown that pauses playback after d. Replaces
// any armed timer.
func (t *Timer) SetCountdown(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	if d <= 0 {
		return
	}
	t.mode = Countdown
	t.remaining = d
	t.armLocked()
	t.log.Debug().Dur("duration", d).Msg("countdown armed")
}

// SetChapterStop arms a timer that pauses playback once the player
// position reaches stopAt. Replaces any armed timer.
func (t *Timer) SetChapterStop(stopAt time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.mode = ChapterBound
	t.stopAt = stopAt
	t.armLocked()
	t.log.Debug().Dur("stop_at", stopAt).Msg("chapter stop armed")
}

// Increase extends the armed timer by d. No-op when off.
func (t *Timer) Increase(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.mode {
	case Countdown:
		t.remaining += d
		t.applyFadeLocked(t.remaining)
	case ChapterBound:
		t.stopAt += d
	}
}

// Decrease shortens a countdown by d, floored at zero. Hitting zero
// expires the timer immediately, exactly once. No-op for chapter-bound
// timers and when off.
func (t *Timer) Decrease(d time.Duration) {
	t.mu.Lock()
	if t.mode != Countdown {
		t.mu.Unlock()
		return
	}
	t.remaining -= d
	if t.remaining > 0 {
		t.applyFadeLocked(t.remaining)
		t.mu.Unlock()
		return
	}
	t.remaining = 0
	t.expireLocked()
}

// Cancel disarms the timer and restores any faded volume.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

// Mode reports the current state.
func (t *Timer) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Remaining reports time left on a countdown, or distance to the stop
// position for a chapter-bound timer. Zero when off.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.mode {
	case Countdown:
		return t.remaining
	case ChapterBound:
		if left := t.stopAt - t.player.Position(); left > 0 {
			return left
		}
		return 0
	default:
		return 0
	}
}

func (t *Timer) armLocked() {
	t.baseVolume = t.player.Volume()
	t.fading = false
	cancel := make(chan struct{})
	t.cancel = cancel
	// Created here rather than in the goroutine so the ticker is
	// registered with the clock before arming returns.
	ticker := t.clock.NewTicker(tickInterval)
	go t.run(cancel, ticker)
}

func (t *Timer) disarmLocked() {
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
	t.mode = Off
	t.restoreVolumeLocked()
}

func (t *Timer) run(cancel chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.Chan():
			if !t.tick(cancel) {
				return
			}
		}
	}
}

// tick advances the timer by one interval. Returns false once this
// arming is finished.
func (t *Timer) tick(cancel chan struct{}) bool {
	t.mu.Lock()
	if t.cancel != cancel {
		t.mu.Unlock()
		return false
	}
	switch t.mode {
	case Countdown:
		t.remaining -= tickInterval
		if t.remaining <= 0 {
			t.remaining = 0
			t.expireLocked()
			return false
		}
		t.applyFadeLocked(t.remaining)
	case ChapterBound:
		pos := t.player.Position()
		if pos >= t.stopAt {
			t.expireLocked()
			return false
		}
		t.applyFadeLocked(t.stopAt - pos)
	default:
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()
	return true
}

// applyFadeLocked ramps volume toward zero as left shrinks inside the
// fade window.
func (t *Timer) applyFadeLocked(left time.Duration) {
	if !t.fadeOut || left >= t.fadeWindow {
		return
	}
	t.fading = true
	t.player.SetVolume(t.baseVolume * float64(left) / float64(t.fadeWindow))
}

func (t *Timer) restoreVolumeLocked() {
	if t.fading {
		t.player.SetVolume(t.baseVolume)
		t.fading = false
	}
}

// expireLocked pauses playback and disarms. Releases the lock before
// invoking the expiry callback.
func (t *Timer) expireLocked() {
	mode := t.mode
	if t.cancel != nil {
		close(t.cancel)
		t.cancel = nil
	}
	t.mode = Off
	t.player.Pause()
	t.restoreVolumeLocked()
	t.log.Info().Stringer("mode", mode).Msg("sleep timer expired, playback paused")
	done := t.onExpire
	t.mu.Unlock()
	if done != nil {
		done()
	}
}
