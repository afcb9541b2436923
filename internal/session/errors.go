package session

import "errors"

// Error kinds surfaced by the manager. Collaborator failures (network,
// storage) are recovered at this boundary and wrapped into one of these;
// nothing below it raises session-start-class errors.
var (
	// ErrSessionStartFailed wraps network or auth failures starting a
	// remote session. Playback does not start.
	ErrSessionStartFailed = errors.New("session start failed")

	// ErrNotFound means the requested local item or episode is missing.
	ErrNotFound = errors.New("item not found")

	// ErrPersistenceFailed wraps session or settings writes that did not
	// reach storage. The in-progress start is aborted: resume-after-restart
	// depends on the durable record.
	ErrPersistenceFailed = errors.New("persistence failed")
)
