package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/llehouerou/shelf/internal/engine"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/nowplaying"
	"github.com/llehouerou/shelf/internal/readiness"
	"github.com/llehouerou/shelf/internal/sleeptimer"
)

// serverSyncEvery is how many progress ticks pass between server syncs.
const serverSyncEvery = 15

// Store is the persistence surface the manager needs.
type Store interface {
	PutSession(s *PlaybackSession) error
	SaveProgress(id string, currentTime time.Duration) error
	ActiveSessions(scope string) ([]*PlaybackSession, error)
	DeactivateOthers(scope, keepID string) error
	GetLocalItem(id string) (*library.Item, error)
	SavePlaybackRate(rate float64) error
}

// API is the server surface the manager needs. Nil when the player runs
// without a server connection.
type API interface {
	StartSession(ctx context.Context, libraryItemID, episodeID string, forceTranscode bool) (*PlaybackSession, error)
	SyncSession(ctx context.Context, sessionID string, currentTime, timeListened time.Duration) error
	CloseSession(ctx context.Context, sessionID string) error
}

// ServerInfo identifies the active server connection.
type ServerInfo struct {
	ConnectionID string
	Address      string
	Token        string
	Version      string
}

// Manager owns the active playback session and enforces that at most one
// session per connection scope is active at a time.
//
// All public methods serialize on one mutex; background work (readiness
// polling, sleep timer expiry, progress ticks) re-enters through that
// same lock before touching the active session.
type Manager struct {
	mu sync.Mutex

	engine    engine.Interface
	store     Store
	api       API
	np        *nowplaying.Synchronizer
	confirmer *readiness.Confirmer
	sleep     *sleeptimer.Timer
	server    ServerInfo

	defaultRate  float64
	seekForward  time.Duration
	seekBackward time.Duration

	current   *PlaybackSession
	tickCount int

	log zerolog.Logger
}

// Options carries the manager's collaborators and tunables.
type Options struct {
	Engine    engine.Interface
	Store     Store
	API       API // nil without a server connection
	NowPlay   *nowplaying.Synchronizer
	Confirmer *readiness.Confirmer
	Sleep     *sleeptimer.Timer
	Server    ServerInfo

	DefaultRate  float64
	SeekForward  time.Duration
	SeekBackward time.Duration

	Log zerolog.Logger
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.DefaultRate <= 0 {
		opts.DefaultRate = 1.0
	}
	return &Manager{
		engine:       opts.Engine,
		store:        opts.Store,
		api:          opts.API,
		np:           opts.NowPlay,
		confirmer:    opts.Confirmer,
		sleep:        opts.Sleep,
		server:       opts.Server,
		defaultRate:  opts.DefaultRate,
		seekForward:  opts.SeekForward,
		seekBackward: opts.SeekBackward,
		log:          opts.Log.With().Str("component", "session").Logger(),
	}
}

// StartRemote starts (or re-selects) playback of a server item. Selecting
// the item that is already active does not open a new server session; it
// resumes playback of the current one and republishes its metadata.
func (m *Manager) StartRemote(ctx context.Context, libraryItemID, episodeID string) (*PlaybackSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.current; cur != nil && cur.IsActive && cur.MatchesRemote(libraryItemID, episodeID) {
		m.log.Debug().Str("item", libraryItemID).Msg("item already active, resuming")
		m.engine.Play(true)
		m.publishMetadata(cur)
		m.startReadiness()
		return cur, nil
	}

	if m.api == nil {
		return nil, fmt.Errorf("%w: no server connection", ErrSessionStartFailed)
	}

	s, err := m.api.StartSession(ctx, libraryItemID, episodeID, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStartFailed, err)
	}

	if err := m.activate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// StartLocal starts playback of a downloaded item. When the store holds
// an active session for the same item its progress is resumed.
func (m *Manager) StartLocal(_ context.Context, localItemID, episodeID string) (*PlaybackSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.store.GetLocalItem(localItemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: local item %s", ErrNotFound, localItemID)
	}

	s, err := m.localSession(item, episodeID)
	if err != nil {
		return nil, err
	}

	if err := m.activate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// localSession builds the session for a local item, reusing the stored
// active session for the same item when one exists.
func (m *Manager) localSession(item *library.Item, episodeID string) (*PlaybackSession, error) {
	existing, err := m.store.ActiveSessions("")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	for _, s := range existing {
		if s.MatchesLocal(item.ID, episodeID) {
			return s, nil
		}
	}

	title := item.Title
	tracks := item.Tracks
	chapters := item.Chapters
	duration := item.Duration
	if episodeID != "" {
		ep := item.Episode(episodeID)
		if ep == nil {
			return nil, fmt.Errorf("%w: episode %s", ErrNotFound, episodeID)
		}
		title = ep.Title
		tracks = ep.Tracks
		chapters = nil
		duration = ep.Duration
	}

	s := &PlaybackSession{
		ID:            uuid.NewString(),
		Local:         &LocalItemRef{LocalItemID: item.ID, EpisodeID: episodeID},
		DisplayTitle:  title,
		DisplayAuthor: item.Author,
		Duration:      duration,
		IsActive:      true,
	}
	for _, t := range tracks {
		s.AudioTracks = append(s.AudioTracks, AudioTrack{
			Index:    t.Index,
			Source:   t.Path,
			Duration: t.Duration,
		})
	}
	for _, c := range chapters {
		s.Chapters = append(s.Chapters, Chapter{Start: c.Start, End: c.End, Title: c.Title})
	}
	return s, nil
}

// activate persists the session, supersedes other active sessions in its
// scope, and begins playback. Persistence must succeed before any audio
// starts; a session that cannot be recorded is not played. The scope is
// cleared before the new row is written so storage never holds two active
// sessions at once.
func (m *Manager) activate(s *PlaybackSession) error {
	s.IsActive = true
	s.UpdatedAt = time.Now()
	if err := m.store.DeactivateOthers(s.ConnectionScope, s.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if err := m.store.PutSession(s); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	// A timer armed for the superseded session would fire against the new
	// one's timeline.
	m.sleep.Cancel()

	m.engine.Pause()

	var tracks []engine.Track
	for _, t := range s.AudioTracks {
		tracks = append(tracks, engine.Track{Source: t.Source, Duration: t.Duration})
	}
	if err := m.engine.Load(tracks, s.CurrentTime, m.defaultRate); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStartFailed, err)
	}

	m.current = s
	m.tickCount = 0
	m.publishMetadata(s)
	m.engine.Play(false)
	m.startReadiness()

	m.log.Info().
		Str("session", s.ID).
		Str("title", s.DisplayTitle).
		Bool("local", s.IsLocal()).
		Msg("session started")
	return nil
}

// Stop ends the active session: playback pauses, final progress and the
// inactive flag are persisted, every sink is cleared, and all in-flight
// polls and timers die with the session.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil {
		return nil
	}

	m.confirmer.Cancel()
	m.sleep.Cancel()
	m.engine.Pause()

	s.CurrentTime = m.engine.Position()
	s.IsActive = false
	s.UpdatedAt = time.Now()
	if err := m.store.PutSession(s); err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Msg("persisting stopped session")
	}
	// Sweep the whole scope so a crash or a race with another device cannot
	// leave a stale row marked active.
	if err := m.store.DeactivateOthers(s.ConnectionScope, ""); err != nil {
		m.log.Error().Err(err).Str("scope", s.ConnectionScope).Msg("deactivating scope sessions")
	}

	if m.api != nil && !s.IsLocal() {
		if err := m.api.CloseSession(ctx, s.ID); err != nil {
			m.log.Warn().Err(err).Str("session", s.ID).Msg("closing server session")
		}
	}

	m.np.Reset()
	m.current = nil
	m.log.Info().Str("session", s.ID).Msg("session stopped")
	return nil
}

// Resume restores the most recently active session from the store without
// starting audio output, leaving it paused at its saved position.
func (m *Manager) Resume(scope string) (*PlaybackSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.ActiveSessions(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	s := sessions[0]

	var tracks []engine.Track
	for _, t := range s.AudioTracks {
		tracks = append(tracks, engine.Track{Source: t.Source, Duration: t.Duration})
	}
	if err := m.engine.Load(tracks, s.CurrentTime, m.defaultRate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStartFailed, err)
	}

	m.current = s
	m.publishMetadata(s)
	m.pushProgress(s.CurrentTime, 0)
	m.log.Info().Str("session", s.ID).Str("title", s.DisplayTitle).Msg("session restored")
	return s, nil
}

// Current returns the active session, or nil.
func (m *Manager) Current() *PlaybackSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SleepTimer exposes the sleep timer for UI surfaces.
func (m *Manager) SleepTimer() *sleeptimer.Timer {
	return m.sleep
}

// ConfirmReady polls until audio is actually flowing and the now-playing
// projection is populated, then invokes onReady. After the timeout the
// continuation still runs, with timedOut set.
func (m *Manager) ConfirmReady(onReady func(timedOut bool)) {
	m.confirmer.Start(onReady)
}

// Tick advances the session clock by one progress interval. It persists
// progress, periodically syncs it to the server, and refreshes the
// now-playing projection with chapter context.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil {
		return
	}

	pos := m.engine.Position()
	s.CurrentTime = pos
	if err := m.store.SaveProgress(s.ID, pos); err != nil {
		m.log.Error().Err(err).Str("session", s.ID).Msg("saving progress")
	}

	if m.api != nil && !s.IsLocal() && m.engine.Status() == engine.Playing {
		m.tickCount++
		if m.tickCount%serverSyncEvery == 0 {
			if err := m.api.SyncSession(ctx, s.ID, pos, serverSyncEvery*time.Second); err != nil {
				m.log.Warn().Err(err).Str("session", s.ID).Msg("syncing progress")
			}
		}
	}

	m.pushProgress(pos, m.playingRate())
}

// SetPlaybackRate changes the playback speed for the session and future
// ones, persisting it as the user preference.
func (m *Manager) SetPlaybackRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.engine.SetRate(rate)
	m.defaultRate = rate
	if err := m.store.SavePlaybackRate(rate); err != nil {
		m.log.Error().Err(err).Msg("saving playback rate")
	}
	if s := m.current; s != nil {
		m.pushProgress(m.engine.Position(), m.playingRate())
	}
}

// SeekForward jumps ahead by the configured interval.
func (m *Manager) SeekForward() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekBy(m.seekForward)
}

// SeekBackward jumps back by the configured interval.
func (m *Manager) SeekBackward() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seekBy(-m.seekBackward)
}

func (m *Manager) seekBy(delta time.Duration) {
	if m.current == nil {
		return
	}
	m.engine.SeekTo(m.engine.Position() + delta)
	m.pushProgress(m.engine.Position(), m.playingRate())
}

// SetPaused pauses or resumes the engine and pushes the resulting state.
func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	if paused {
		m.engine.Pause()
	} else {
		m.engine.Play(true)
	}
	m.pushProgress(m.engine.Position(), m.playingRate())
}

// Paused reports whether playback is currently paused.
func (m *Manager) Paused() bool {
	return m.engine.Status() != engine.Playing && m.engine.Status() != engine.Buffering
}

// playingRate is the rate for state derivation: the engine rate while
// output flows, zero otherwise.
func (m *Manager) playingRate() float64 {
	if m.engine.Status() == engine.Playing {
		return m.engine.Rate()
	}
	return 0
}

func (m *Manager) publishMetadata(s *PlaybackSession) {
	meta := nowplaying.Metadata{
		ID:           s.ID,
		ItemID:       s.ItemID(),
		Title:        s.DisplayTitle,
		Author:       s.DisplayAuthor,
		IsLocal:      s.IsLocal(),
		PlaybackRate: m.defaultRate,
		Duration:     s.Duration,
		CurrentTime:  s.CurrentTime,
	}
	if !s.IsLocal() {
		meta.CoverURL = nowplaying.CoverURL(m.server.Address, m.server.Token, m.server.Version, s.ItemID())
	}
	m.np.SetSessionMetadata(meta)
}

func (m *Manager) pushProgress(pos time.Duration, rate float64) {
	s := m.current
	if s == nil {
		return
	}
	var info *nowplaying.ChapterInfo
	if c, num := s.ChapterAt(pos); c != nil {
		info = &nowplaying.ChapterInfo{Title: c.Title, Number: num, Count: len(s.Chapters)}
	}
	m.np.Update(s.Duration, pos, rate, m.defaultRate, info)
}

func (m *Manager) startReadiness() {
	m.confirmer.Start(func(timedOut bool) {
		if timedOut {
			m.log.Warn().Msg("playback readiness timed out, publishing state anyway")
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pushProgress(m.engine.Position(), m.playingRate())
	})
}
