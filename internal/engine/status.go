package engine

// Status is the transport status of the audio engine.
//
// Playing means audio output is actually flowing. Buffering means playback
// was requested but the engine is still filling its pipeline; anything that
// wants to know whether sound is audible must check for Playing
// specifically, not Buffering and not "rate > 0".
//
// Valid transitions:
//   - Idle      → Buffering (via Load)
//   - Buffering → Playing   (pipeline ready with play requested)
//   - Buffering → Paused    (pipeline ready without play requested)
//   - Playing   → Paused    (via Pause)
//   - Paused    → Playing   (via Play)
//   - any       → Idle      (via Close)
type Status int

const (
	Idle Status = iota
	Buffering
	Playing
	Paused
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Buffering:
		return "Buffering"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsActive returns true if media is loaded (anything but Idle).
func (s Status) IsActive() bool {
	return s != Idle
}
