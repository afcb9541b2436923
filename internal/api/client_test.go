package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStartSessionMapsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items/li_1/play" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{
			"id": "sess_1",
			"libraryItemId": "li_1",
			"displayTitle": "The Stand",
			"displayAuthor": "Stephen King",
			"duration": 120.5,
			"currentTime": 30,
			"audioTracks": [
				{"index": 1, "duration": 60, "contentUrl": "/hls/sess_1/t1.mp3"},
				{"index": 2, "duration": 60.5, "contentUrl": "/hls/sess_1/t2.mp3"}
			],
			"chapters": [
				{"start": 0, "end": 60, "title": "Intro"}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	s, err := c.StartSession(context.Background(), "li_1", "", false)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if s.ID != "sess_1" {
		t.Errorf("id = %s", s.ID)
	}
	if s.Remote == nil || s.Remote.ServerConnectionID != "conn_1" {
		t.Fatalf("remote ref = %+v", s.Remote)
	}
	if s.ConnectionScope != "conn_1" {
		t.Errorf("scope = %s", s.ConnectionScope)
	}
	if s.CurrentTime != 30*time.Second {
		t.Errorf("currentTime = %v", s.CurrentTime)
	}
	if len(s.AudioTracks) != 2 {
		t.Fatalf("tracks = %d", len(s.AudioTracks))
	}
	if want := srv.URL + "/hls/sess_1/t1.mp3?token=tok"; s.AudioTracks[0].Source != want {
		t.Errorf("track source = %s, want %s", s.AudioTracks[0].Source, want)
	}
	if len(s.Chapters) != 1 || s.Chapters[0].Title != "Intro" {
		t.Errorf("chapters = %+v", s.Chapters)
	}
	if !s.IsActive {
		t.Error("session not marked active")
	}
}

func TestStartSessionEpisodePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"id": "sess_2", "libraryItemId": "li_1", "episodeId": "ep_1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	s, err := c.StartSession(context.Background(), "li_1", "ep_1", false)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if gotPath != "/api/items/li_1/play/ep_1" {
		t.Errorf("path = %s", gotPath)
	}
	if s.Remote.EpisodeID != "ep_1" {
		t.Errorf("episode = %s", s.Remote.EpisodeID)
	}
}

func TestStartSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	if _, err := c.StartSession(context.Background(), "li_1", "", false); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestFetchLibraries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/libraries" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"libraries": [{"id": "lib_1", "name": "Books", "mediaType": "book"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	libs, err := c.FetchLibraries(context.Background())
	if err != nil {
		t.Fatalf("FetchLibraries: %v", err)
	}
	if len(libs) != 1 || libs[0].Name != "Books" {
		t.Errorf("libraries = %+v", libs)
	}
}

func TestFetchCover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	data, err := c.FetchCover(context.Background(), srv.URL+"/api/items/li_1/cover")
	if err != nil {
		t.Fatalf("FetchCover: %v", err)
	}
	if string(data) != "imagebytes" {
		t.Errorf("data = %q", data)
	}
}

func TestSyncSession(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "conn_1")
	if err := c.SyncSession(context.Background(), "sess_1", 42*time.Second, 10*time.Second); err != nil {
		t.Fatalf("SyncSession: %v", err)
	}
	if gotPath != "/api/session/sess_1/sync" {
		t.Errorf("path = %s", gotPath)
	}
}
