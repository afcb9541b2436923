package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/llehouerou/shelf/internal/engine"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/nowplaying"
	"github.com/llehouerou/shelf/internal/readiness"
	"github.com/llehouerou/shelf/internal/sleeptimer"
)

type fakeStore struct {
	mu         sync.Mutex
	sessions   map[string]*PlaybackSession
	localItems map[string]*library.Item
	rate       float64
	putErr     error
	putCalls   int

	// Highest number of active rows ever observed in one scope, sampled
	// after every write.
	maxActive int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:   make(map[string]*PlaybackSession),
		localItems: make(map[string]*library.Item),
	}
}

func (f *fakeStore) GetSession(id string) (*PlaybackSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeStore) PutSession(s *PlaybackSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return f.putErr
	}
	cp := *s
	f.sessions[s.ID] = &cp
	f.sampleActiveLocked(s.ConnectionScope)
	return nil
}

func (f *fakeStore) sampleActiveLocked(scope string) {
	n := 0
	for _, s := range f.sessions {
		if s.IsActive && s.ConnectionScope == scope {
			n++
		}
	}
	if n > f.maxActive {
		f.maxActive = n
	}
}

func (f *fakeStore) SaveProgress(id string, currentTime time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.CurrentTime = currentTime
	}
	return nil
}

func (f *fakeStore) ActiveSessions(scope string) ([]*PlaybackSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*PlaybackSession
	for _, s := range f.sessions {
		if s.IsActive && s.ConnectionScope == scope {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) DeactivateOthers(scope, keepID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ConnectionScope == scope && s.ID != keepID {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeStore) GetLocalItem(id string) (*library.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localItems[id], nil
}

func (f *fakeStore) SavePlaybackRate(rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = rate
	return nil
}

func (f *fakeStore) activeInScope(scope string) []*PlaybackSession {
	out, _ := f.ActiveSessions(scope)
	return out
}

type fakeAPI struct {
	mu         sync.Mutex
	startCalls int
	startErr   error
	closed     []string
	synced     []string
	nextID     string
}

func (f *fakeAPI) StartSession(_ context.Context, libraryItemID, episodeID string, _ bool) (*PlaybackSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	id := f.nextID
	if id == "" {
		id = "srv-sess-1"
	}
	return &PlaybackSession{
		ID:              id,
		Remote:          &RemoteItemRef{ServerConnectionID: "conn1", LibraryItemID: libraryItemID, EpisodeID: episodeID},
		ConnectionScope: "conn1",
		DisplayTitle:    "The Stand",
		DisplayAuthor:   "Stephen King",
		AudioTracks: []AudioTrack{
			{Index: 1, Source: "http://srv/t1.mp3", Duration: 30 * time.Minute},
			{Index: 2, Source: "http://srv/t2.mp3", Duration: 30 * time.Minute},
		},
		Chapters: []Chapter{
			{Start: 0, End: 20 * time.Minute, Title: "Intro"},
			{Start: 20 * time.Minute, End: time.Hour, Title: "Outbreak"},
		},
		Duration:    time.Hour,
		CurrentTime: 5 * time.Minute,
		IsActive:    true,
	}, nil
}

func (f *fakeAPI) SyncSession(_ context.Context, sessionID string, _, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, sessionID)
	return nil
}

func (f *fakeAPI) CloseSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
	return nil
}

type recordSink struct {
	mu          sync.Mutex
	projections []nowplaying.Projection
	states      []nowplaying.PlaybackState
	cleared     int
}

func (r *recordSink) SetNowPlaying(p nowplaying.Projection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projections = append(r.projections, p)
}

func (r *recordSink) SetPlaybackState(s nowplaying.PlaybackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordSink) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *recordSink) last(t *testing.T) nowplaying.Projection {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.projections) == 0 {
		t.Fatal("no projection pushed")
	}
	return r.projections[len(r.projections)-1]
}

type managerFixture struct {
	manager *Manager
	eng     *engine.Mock
	store   *fakeStore
	api     *fakeAPI
	sink    *recordSink
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	eng := engine.NewMock()
	st := newFakeStore()
	ap := &fakeAPI{}
	sink := &recordSink{}
	np := nowplaying.New(sink, func(context.Context, string) ([]byte, error) {
		return nil, errors.New("no artwork in tests")
	}, zerolog.Nop())
	clock := clockwork.NewFakeClock()
	confirmer := readiness.New(clock, eng.Status, np.HasInfo, zerolog.Nop())
	sleep := sleeptimer.New(clock, eng, false, 0, nil, zerolog.Nop())

	m := NewManager(Options{
		Engine:       eng,
		Store:        st,
		API:          ap,
		NowPlay:      np,
		Confirmer:    confirmer,
		Sleep:        sleep,
		Server:       ServerInfo{ConnectionID: "conn1", Address: "http://srv", Token: "tok", Version: "2.17.0"},
		DefaultRate:  1.0,
		SeekForward:  30 * time.Second,
		SeekBackward: 10 * time.Second,
		Log:          zerolog.Nop(),
	})
	return &managerFixture{manager: m, eng: eng, store: st, api: ap, sink: sink}
}

func TestStartRemoteActivatesSession(t *testing.T) {
	f := newFixture(t)

	s, err := f.manager.StartRemote(context.Background(), "li_1", "")
	if err != nil {
		t.Fatalf("StartRemote: %v", err)
	}
	if s.ID != "srv-sess-1" {
		t.Errorf("session id = %s", s.ID)
	}

	stored, _ := f.store.GetSession("srv-sess-1")
	if stored == nil || !stored.IsActive {
		t.Fatal("session not persisted as active")
	}
	if len(f.eng.LoadCalls()) != 1 {
		t.Fatalf("load calls = %d, want 1", len(f.eng.LoadCalls()))
	}
	if len(f.eng.PlayCalls()) != 1 {
		t.Fatalf("play calls = %d, want 1", len(f.eng.PlayCalls()))
	}

	proj := f.sink.last(t)
	if proj.Title != "The Stand" || proj.Artist != "Stephen King" {
		t.Errorf("projection = %q by %q", proj.Title, proj.Artist)
	}
	if proj.ID != "srv-sess-1" {
		t.Errorf("projection session id = %s", proj.ID)
	}
}

func TestStartRemoteSupersedesPriorSession(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}

	f.api.nextID = "srv-sess-2"
	if _, err := f.manager.StartRemote(context.Background(), "li_2", ""); err != nil {
		t.Fatal(err)
	}

	active := f.store.activeInScope("conn1")
	if len(active) != 1 {
		t.Fatalf("active sessions in scope = %d, want 1", len(active))
	}
	if active[0].ID != "srv-sess-2" {
		t.Errorf("active session = %s, want srv-sess-2", active[0].ID)
	}

	f.store.mu.Lock()
	maxActive := f.store.maxActive
	f.store.mu.Unlock()
	if maxActive > 1 {
		t.Errorf("storage held %d active sessions in one scope at once", maxActive)
	}
}

func TestStartRemoteCancelsInheritedSleepTimer(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.manager.SleepTimer().SetChapterStop(20 * time.Minute)

	f.api.nextID = "srv-sess-2"
	if _, err := f.manager.StartRemote(context.Background(), "li_2", ""); err != nil {
		t.Fatal(err)
	}

	// The stop point was set on the first session's timeline and must not
	// pause the second one.
	if mode := f.manager.SleepTimer().Mode(); mode != sleeptimer.Off {
		t.Errorf("sleep timer mode after supersede = %v, want off", mode)
	}
}

func TestStartRemoteIdempotentReselect(t *testing.T) {
	f := newFixture(t)

	first, err := f.manager.StartRemote(context.Background(), "li_1", "")
	if err != nil {
		t.Fatal(err)
	}
	putsBefore := f.store.putCalls

	second, err := f.manager.StartRemote(context.Background(), "li_1", "")
	if err != nil {
		t.Fatal(err)
	}

	if second.ID != first.ID {
		t.Errorf("re-select returned session %s, want %s", second.ID, first.ID)
	}
	if f.api.startCalls != 1 {
		t.Errorf("server start calls = %d, want 1", f.api.startCalls)
	}
	if f.store.putCalls != putsBefore {
		t.Errorf("re-select wrote %d extra sessions", f.store.putCalls-putsBefore)
	}
	// Re-selecting resumes playback rather than reloading.
	if len(f.eng.LoadCalls()) != 1 {
		t.Errorf("load calls = %d, want 1", len(f.eng.LoadCalls()))
	}
	if len(f.eng.PlayCalls()) != 2 {
		t.Errorf("play calls = %d, want 2", len(f.eng.PlayCalls()))
	}
}

func TestStartRemoteServerFailure(t *testing.T) {
	f := newFixture(t)
	f.api.startErr = errors.New("boom")

	_, err := f.manager.StartRemote(context.Background(), "li_1", "")
	if !errors.Is(err, ErrSessionStartFailed) {
		t.Fatalf("err = %v, want ErrSessionStartFailed", err)
	}
	if f.manager.Current() != nil {
		t.Error("failed start left a current session")
	}
	if f.store.putCalls != 0 {
		t.Error("failed start wrote to the store")
	}
}

func TestStartRemotePersistenceFailureAbortsPlayback(t *testing.T) {
	f := newFixture(t)
	f.store.putErr = errors.New("disk full")

	_, err := f.manager.StartRemote(context.Background(), "li_1", "")
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("err = %v, want ErrPersistenceFailed", err)
	}
	if len(f.eng.LoadCalls()) != 0 {
		t.Error("engine loaded despite persistence failure")
	}
	if len(f.eng.PlayCalls()) != 0 {
		t.Error("playback started despite persistence failure")
	}
	if f.manager.Current() != nil {
		t.Error("failed start left a current session")
	}
}

func TestStartLocalUnknownItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.StartLocal(context.Background(), "nope", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartLocalBuildsSessionFromItem(t *testing.T) {
	f := newFixture(t)
	f.store.localItems["loc_1"] = &library.Item{
		ID:     "loc_1",
		Title:  "Dune",
		Author: "Frank Herbert",
		Tracks: []library.Track{
			{Index: 1, Path: "/audio/dune/01.mp3", Duration: time.Hour},
		},
		Chapters: []library.Chapter{
			{Start: 0, End: time.Hour, Title: "01"},
		},
		Duration: time.Hour,
	}

	s, err := f.manager.StartLocal(context.Background(), "loc_1", "")
	if err != nil {
		t.Fatalf("StartLocal: %v", err)
	}
	if !s.IsLocal() {
		t.Fatal("session not local")
	}
	if s.ConnectionScope != "" {
		t.Errorf("scope = %q, want empty for local", s.ConnectionScope)
	}
	if s.ID == "" {
		t.Error("missing generated session id")
	}
	if len(s.AudioTracks) != 1 || s.AudioTracks[0].Source != "/audio/dune/01.mp3" {
		t.Errorf("tracks = %+v", s.AudioTracks)
	}

	proj := f.sink.last(t)
	if proj.Title != "Dune" || !proj.IsLocal {
		t.Errorf("projection = %+v", proj)
	}
}

func TestStartLocalResumesStoredSession(t *testing.T) {
	f := newFixture(t)
	f.store.localItems["loc_1"] = &library.Item{
		ID:       "loc_1",
		Title:    "Dune",
		Tracks:   []library.Track{{Index: 1, Path: "/audio/dune/01.mp3", Duration: time.Hour}},
		Duration: time.Hour,
	}
	f.store.sessions["old"] = &PlaybackSession{
		ID:           "old",
		Local:        &LocalItemRef{LocalItemID: "loc_1"},
		DisplayTitle: "Dune",
		AudioTracks:  []AudioTrack{{Index: 1, Source: "/audio/dune/01.mp3", Duration: time.Hour}},
		Duration:     time.Hour,
		CurrentTime:  42 * time.Minute,
		IsActive:     true,
	}

	s, err := f.manager.StartLocal(context.Background(), "loc_1", "")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "old" {
		t.Errorf("session id = %s, want resumed old", s.ID)
	}
	if s.CurrentTime != 42*time.Minute {
		t.Errorf("currentTime = %v, want 42m", s.CurrentTime)
	}
	if f.eng.Position() != 42*time.Minute {
		t.Errorf("engine position = %v, want 42m", f.eng.Position())
	}
}

func TestStopDeactivatesAndClears(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.eng.SetPosition(10 * time.Minute)

	// A row a crash left behind, never superseded through the manager.
	stale := &PlaybackSession{ID: "stale-sess", ConnectionScope: "conn1", IsActive: true}
	if err := f.store.PutSession(stale); err != nil {
		t.Fatal(err)
	}

	if err := f.manager.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	if active := f.store.activeInScope("conn1"); len(active) != 0 {
		t.Errorf("active sessions in scope after stop = %d, want 0", len(active))
	}

	if f.manager.Current() != nil {
		t.Error("current session survived stop")
	}
	stored, _ := f.store.GetSession("srv-sess-1")
	if stored.IsActive {
		t.Error("stored session still active")
	}
	if stored.CurrentTime != 10*time.Minute {
		t.Errorf("final position = %v, want 10m", stored.CurrentTime)
	}
	if len(f.api.closed) != 1 || f.api.closed[0] != "srv-sess-1" {
		t.Errorf("closed sessions = %v", f.api.closed)
	}

	f.sink.mu.Lock()
	cleared := f.sink.cleared
	lastState := f.sink.states[len(f.sink.states)-1]
	f.sink.mu.Unlock()
	if cleared == 0 {
		t.Error("sink was not cleared")
	}
	if lastState != nowplaying.StateStopped {
		t.Errorf("final state = %v, want stopped", lastState)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.manager.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTickPersistsProgressAndChapterContext(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.eng.SetStatus(engine.Playing)
	f.eng.SetPosition(25 * time.Minute)

	f.manager.Tick(context.Background())

	stored, _ := f.store.GetSession("srv-sess-1")
	if stored.CurrentTime != 25*time.Minute {
		t.Errorf("persisted progress = %v, want 25m", stored.CurrentTime)
	}

	proj := f.sink.last(t)
	if proj.Artist != "Stephen King · Outbreak" {
		t.Errorf("artist = %q, want chapter subtitle", proj.Artist)
	}
	if proj.ChapterNumber != 2 || proj.ChapterCount != 2 {
		t.Errorf("chapter %d/%d, want 2/2", proj.ChapterNumber, proj.ChapterCount)
	}
	if proj.Rate != 1.0 {
		t.Errorf("rate = %v, want 1.0 while playing", proj.Rate)
	}
}

func TestTickWhilePausedPushesZeroRate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.eng.Pause()

	f.manager.Tick(context.Background())

	proj := f.sink.last(t)
	if proj.Rate != 0 {
		t.Errorf("rate = %v, want 0 while paused", proj.Rate)
	}
	f.sink.mu.Lock()
	lastState := f.sink.states[len(f.sink.states)-1]
	f.sink.mu.Unlock()
	if lastState != nowplaying.StatePaused {
		t.Errorf("state = %v, want paused", lastState)
	}
}

func TestTickSyncsToServerPeriodically(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.eng.SetStatus(engine.Playing)

	for i := 0; i < serverSyncEvery; i++ {
		f.manager.Tick(context.Background())
	}

	f.api.mu.Lock()
	synced := len(f.api.synced)
	f.api.mu.Unlock()
	if synced != 1 {
		t.Errorf("server syncs = %d, want 1 after %d ticks", synced, serverSyncEvery)
	}
}

func TestSetPlaybackRatePersists(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}

	f.manager.SetPlaybackRate(1.5)

	if f.eng.Rate() != 1.5 {
		t.Errorf("engine rate = %v", f.eng.Rate())
	}
	f.store.mu.Lock()
	rate := f.store.rate
	f.store.mu.Unlock()
	if rate != 1.5 {
		t.Errorf("persisted rate = %v", rate)
	}
}

func TestSeekUsesConfiguredIntervals(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.StartRemote(context.Background(), "li_1", ""); err != nil {
		t.Fatal(err)
	}
	f.eng.SetPosition(10 * time.Minute)

	f.manager.SeekForward()
	if f.eng.Position() != 10*time.Minute+30*time.Second {
		t.Errorf("position after forward = %v", f.eng.Position())
	}

	f.manager.SeekBackward()
	if f.eng.Position() != 10*time.Minute+20*time.Second {
		t.Errorf("position after backward = %v", f.eng.Position())
	}
}

func TestResumeRestoresWithoutPlaying(t *testing.T) {
	f := newFixture(t)
	f.store.sessions["prev"] = &PlaybackSession{
		ID:              "prev",
		Remote:          &RemoteItemRef{ServerConnectionID: "conn1", LibraryItemID: "li_9"},
		ConnectionScope: "conn1",
		DisplayTitle:    "It",
		DisplayAuthor:   "Stephen King",
		AudioTracks:     []AudioTrack{{Index: 1, Source: "http://srv/t1.mp3", Duration: time.Hour}},
		Duration:        time.Hour,
		CurrentTime:     30 * time.Minute,
		IsActive:        true,
	}

	s, err := f.manager.Resume("conn1")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.ID != "prev" {
		t.Fatalf("resumed session = %+v", s)
	}
	if len(f.eng.PlayCalls()) != 0 {
		t.Error("resume started audio output")
	}
	if f.eng.Position() != 30*time.Minute {
		t.Errorf("engine position = %v, want 30m", f.eng.Position())
	}
	proj := f.sink.last(t)
	if proj.Title != "It" {
		t.Errorf("projection title = %q", proj.Title)
	}
}

func TestResumeWithNothingStored(t *testing.T) {
	f := newFixture(t)
	s, err := f.manager.Resume("conn1")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Errorf("resumed session = %+v, want nil", s)
	}
}
