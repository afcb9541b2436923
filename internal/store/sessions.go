package store

import (
	"database/sql"
	"time"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/session"
)

// GetSession loads a session by id, or nil when absent.
func (m *Manager) GetSession(id string) (*session.PlaybackSession, error) {
	row := m.db.QueryRow(`
		SELECT id, scope, is_local, library_item_id, episode_id,
		       display_title, display_author, duration_ms, current_time_ms,
		       is_active, updated_at
		FROM playback_sessions WHERE id = ?
	`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := m.loadSessionParts(s); err != nil {
		return nil, err
	}
	return s, nil
}

// PutSession writes a session, replacing any existing copy.
func (m *Manager) PutSession(s *session.PlaybackSession) error {
	return db.WithTx(m.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO playback_sessions
				(id, scope, is_local, library_item_id, episode_id,
				 display_title, display_author, duration_ms, current_time_ms,
				 is_active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				scope = excluded.scope,
				is_local = excluded.is_local,
				library_item_id = excluded.library_item_id,
				episode_id = excluded.episode_id,
				display_title = excluded.display_title,
				display_author = excluded.display_author,
				duration_ms = excluded.duration_ms,
				current_time_ms = excluded.current_time_ms,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at
		`,
			s.ID, s.ConnectionScope, boolToInt(s.IsLocal()), s.ItemID(),
			db.NullString(s.EpisodeID()), s.DisplayTitle,
			db.NullString(s.DisplayAuthor), s.Duration.Milliseconds(),
			s.CurrentTime.Milliseconds(), boolToInt(s.IsActive),
			time.Now().Unix(),
		)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM session_tracks WHERE session_id = ?`, s.ID); err != nil {
			return err
		}
		for _, t := range s.AudioTracks {
			if _, err := tx.Exec(`
				INSERT INTO session_tracks (session_id, idx, source, duration_ms)
				VALUES (?, ?, ?, ?)
			`, s.ID, t.Index, t.Source, t.Duration.Milliseconds()); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM session_chapters WHERE session_id = ?`, s.ID); err != nil {
			return err
		}
		for i, c := range s.Chapters {
			if _, err := tx.Exec(`
				INSERT INTO session_chapters (session_id, idx, start_ms, end_ms, title)
				VALUES (?, ?, ?, ?, ?)
			`, s.ID, i, c.Start.Milliseconds(), c.End.Milliseconds(), db.NullString(c.Title)); err != nil {
				return err
			}
		}

		return nil
	})
}

// SaveProgress updates only a session's playback position.
func (m *Manager) SaveProgress(id string, currentTime time.Duration) error {
	_, err := m.db.Exec(`
		UPDATE playback_sessions SET current_time_ms = ?, updated_at = ?
		WHERE id = ?
	`, currentTime.Milliseconds(), time.Now().Unix(), id)
	return err
}

// ActiveSessions returns all sessions marked active within a connection
// scope. After a crash or a multi-device race there may briefly be more
// than one; the manager uses this to clean up.
func (m *Manager) ActiveSessions(scope string) ([]*session.PlaybackSession, error) {
	rows, err := m.db.Query(`
		SELECT id, scope, is_local, library_item_id, episode_id,
		       display_title, display_author, duration_ms, current_time_ms,
		       is_active, updated_at
		FROM playback_sessions
		WHERE scope = ? AND is_active = 1
		ORDER BY updated_at DESC
	`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*session.PlaybackSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range sessions {
		if err := m.loadSessionParts(s); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// DeactivateOthers clears the active flag on every session in the scope
// except keepID. Runs in one transaction so no observable instant has two
// active rows once it returns.
func (m *Manager) DeactivateOthers(scope, keepID string) error {
	return db.WithTx(m.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE playback_sessions SET is_active = 0, updated_at = ?
			WHERE scope = ? AND is_active = 1 AND id != ?
		`, time.Now().Unix(), scope, keepID)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.PlaybackSession, error) {
	var (
		s                 session.PlaybackSession
		isLocal, isActive int
		itemID            string
		episodeID, author sql.NullString
		durationMS        int64
		currentMS         int64
		updatedAt         int64
	)

	err := row.Scan(&s.ID, &s.ConnectionScope, &isLocal, &itemID, &episodeID,
		&s.DisplayTitle, &author, &durationMS, &currentMS, &isActive, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.DisplayAuthor = db.NullStringValue(author)
	s.Duration = time.Duration(durationMS) * time.Millisecond
	s.CurrentTime = time.Duration(currentMS) * time.Millisecond
	s.IsActive = isActive != 0
	s.UpdatedAt = time.Unix(updatedAt, 0)

	if isLocal != 0 {
		s.Local = &session.LocalItemRef{
			LocalItemID: itemID,
			EpisodeID:   db.NullStringValue(episodeID),
		}
	} else {
		s.Remote = &session.RemoteItemRef{
			ServerConnectionID: s.ConnectionScope,
			LibraryItemID:      itemID,
			EpisodeID:          db.NullStringValue(episodeID),
		}
	}

	return &s, nil
}

func (m *Manager) loadSessionParts(s *session.PlaybackSession) error {
	rows, err := m.db.Query(`
		SELECT idx, source, duration_ms FROM session_tracks
		WHERE session_id = ? ORDER BY idx
	`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var t session.AudioTrack
		var durMS int64
		if err := rows.Scan(&t.Index, &t.Source, &durMS); err != nil {
			return err
		}
		t.Duration = time.Duration(durMS) * time.Millisecond
		s.AudioTracks = append(s.AudioTracks, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	chRows, err := m.db.Query(`
		SELECT start_ms, end_ms, title FROM session_chapters
		WHERE session_id = ? ORDER BY idx
	`, s.ID)
	if err != nil {
		return err
	}
	defer chRows.Close()

	for chRows.Next() {
		var c session.Chapter
		var startMS, endMS int64
		var title sql.NullString
		if err := chRows.Scan(&startMS, &endMS, &title); err != nil {
			return err
		}
		c.Start = time.Duration(startMS) * time.Millisecond
		c.End = time.Duration(endMS) * time.Millisecond
		c.Title = db.NullStringValue(title)
		s.Chapters = append(s.Chapters, c)
	}
	return chRows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
