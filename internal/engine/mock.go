package engine

import "time"

// PlayCall records one Play invocation.
type PlayCall struct {
	AllowSeekBack bool
}

// Mock is a test double for the audio engine.
type Mock struct {
	status   Status
	position time.Duration
	duration time.Duration
	rate     float64
	volume   float64
	loadErr  error

	loadCalls [][]Track
	playCalls []PlayCall
	seekCalls []time.Duration
	rateCalls []float64
	volCalls  []float64
	closed    bool
}

// NewMock creates a new mock engine for testing.
func NewMock() *Mock {
	return &Mock{
		status: Idle,
		rate:   1.0,
		volume: 1.0,
	}
}

func (m *Mock) Load(tracks []Track, startAt time.Duration, rate float64) error {
	m.loadCalls = append(m.loadCalls, tracks)
	if m.loadErr != nil {
		return m.loadErr
	}
	var total time.Duration
	for _, t := range tracks {
		total += t.Duration
	}
	m.duration = total
	m.position = startAt
	m.rate = rate
	m.status = Buffering
	return nil
}

func (m *Mock) Play(allowSeekBack bool) {
	m.playCalls = append(m.playCalls, PlayCall{AllowSeekBack: allowSeekBack})
	if m.status != Idle {
		m.status = Playing
	}
}

func (m *Mock) Pause() {
	if m.status == Playing || m.status == Buffering {
		m.status = Paused
	}
}

func (m *Mock) SeekTo(pos time.Duration) {
	m.seekCalls = append(m.seekCalls, pos)
	if pos < 0 {
		pos = 0
	}
	if pos > m.duration {
		pos = m.duration
	}
	m.position = pos
}

func (m *Mock) SetRate(rate float64) {
	m.rateCalls = append(m.rateCalls, rate)
	m.rate = rate
}

func (m *Mock) Rate() float64 { return m.rate }

func (m *Mock) Position() time.Duration { return m.position }

func (m *Mock) Duration() time.Duration { return m.duration }

func (m *Mock) Status() Status { return m.status }

func (m *Mock) SetVolume(level float64) {
	m.volCalls = append(m.volCalls, level)
	m.volume = level
}

func (m *Mock) Volume() float64 { return m.volume }

func (m *Mock) Close() error {
	m.closed = true
	m.status = Idle
	return nil
}

// Test helpers

func (m *Mock) SetStatus(s Status) { m.status = s }

func (m *Mock) SetPosition(d time.Duration) { m.position = d }

func (m *Mock) SetDuration(d time.Duration) { m.duration = d }

func (m *Mock) SetLoadError(err error) { m.loadErr = err }

func (m *Mock) LoadCalls() [][]Track { return m.loadCalls }

func (m *Mock) PlayCalls() []PlayCall { return m.playCalls }

func (m *Mock) SeekCalls() []time.Duration { return m.seekCalls }

func (m *Mock) RateCalls() []float64 { return m.rateCalls }

func (m *Mock) VolumeCalls() []float64 { return m.volCalls }

func (m *Mock) Closed() bool { return m.closed }
