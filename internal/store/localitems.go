package store

import (
	"database/sql"
	"time"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/library"
)

// GetLocalItem loads a local library item by id, or nil when absent.
func (m *Manager) GetLocalItem(id string) (*library.Item, error) {
	row := m.db.QueryRow(`
		SELECT id, title, author, duration_ms, added_at
		FROM local_items WHERE id = ?
	`, id)

	item, err := scanLocalItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := m.loadLocalItemParts(item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListLocalItems returns all local library items, newest first.
func (m *Manager) ListLocalItems() ([]*library.Item, error) {
	rows, err := m.db.Query(`
		SELECT id, title, author, duration_ms, added_at
		FROM local_items ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*library.Item
	for rows.Next() {
		item, err := scanLocalItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := m.loadLocalItemParts(item); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// PutLocalItem writes a local item, replacing any existing copy.
func (m *Manager) PutLocalItem(item *library.Item) error {
	return db.WithTx(m.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO local_items (id, title, author, duration_ms, added_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				author = excluded.author,
				duration_ms = excluded.duration_ms
		`, item.ID, item.Title, db.NullString(item.Author),
			item.Duration.Milliseconds(), item.AddedAt.Unix())
		if err != nil {
			return err
		}

		for _, table := range []string{"local_tracks", "local_chapters", "local_episodes"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE item_id = ?`, item.ID); err != nil {
				return err
			}
		}

		for _, t := range item.Tracks {
			if _, err := tx.Exec(`
				INSERT INTO local_tracks (item_id, episode_id, idx, path, duration_ms)
				VALUES (?, NULL, ?, ?, ?)
			`, item.ID, t.Index, t.Path, t.Duration.Milliseconds()); err != nil {
				return err
			}
		}

		for i, c := range item.Chapters {
			if _, err := tx.Exec(`
				INSERT INTO local_chapters (item_id, idx, start_ms, end_ms, title)
				VALUES (?, ?, ?, ?, ?)
			`, item.ID, i, c.Start.Milliseconds(), c.End.Milliseconds(), db.NullString(c.Title)); err != nil {
				return err
			}
		}

		for _, ep := range item.Episodes {
			if _, err := tx.Exec(`
				INSERT INTO local_episodes (item_id, id, title, duration_ms)
				VALUES (?, ?, ?, ?)
			`, item.ID, ep.ID, ep.Title, ep.Duration.Milliseconds()); err != nil {
				return err
			}
			for _, t := range ep.Tracks {
				if _, err := tx.Exec(`
					INSERT INTO local_tracks (item_id, episode_id, idx, path, duration_ms)
					VALUES (?, ?, ?, ?, ?)
				`, item.ID, ep.ID, t.Index, t.Path, t.Duration.Milliseconds()); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func scanLocalItem(row rowScanner) (*library.Item, error) {
	var (
		item       library.Item
		author     sql.NullString
		durationMS int64
		addedAt    int64
	)
	if err := row.Scan(&item.ID, &item.Title, &author, &durationMS, &addedAt); err != nil {
		return nil, err
	}
	item.Author = db.NullStringValue(author)
	item.Duration = time.Duration(durationMS) * time.Millisecond
	item.AddedAt = time.Unix(addedAt, 0)
	return &item, nil
}

func (m *Manager) loadLocalItemParts(item *library.Item) error {
	rows, err := m.db.Query(`
		SELECT episode_id, idx, path, duration_ms FROM local_tracks
		WHERE item_id = ? ORDER BY idx
	`, item.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	episodeTracks := map[string][]library.Track{}
	for rows.Next() {
		var episodeID sql.NullString
		var t library.Track
		var durMS int64
		if err := rows.Scan(&episodeID, &t.Index, &t.Path, &durMS); err != nil {
			return err
		}
		t.Duration = time.Duration(durMS) * time.Millisecond
		if episodeID.Valid {
			episodeTracks[episodeID.String] = append(episodeTracks[episodeID.String], t)
		} else {
			item.Tracks = append(item.Tracks, t)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	chRows, err := m.db.Query(`
		SELECT start_ms, end_ms, title FROM local_chapters
		WHERE item_id = ? ORDER BY idx
	`, item.ID)
	if err != nil {
		return err
	}
	defer chRows.Close()

	for chRows.Next() {
		var c library.Chapter
		var startMS, endMS int64
		var title sql.NullString
		if err := chRows.Scan(&startMS, &endMS, &title); err != nil {
			return err
		}
		c.Start = time.Duration(startMS) * time.Millisecond
		c.End = time.Duration(endMS) * time.Millisecond
		c.Title = db.NullStringValue(title)
		item.Chapters = append(item.Chapters, c)
	}
	if err := chRows.Err(); err != nil {
		return err
	}

	epRows, err := m.db.Query(`
		SELECT id, title, duration_ms FROM local_episodes
		WHERE item_id = ? ORDER BY rowid
	`, item.ID)
	if err != nil {
		return err
	}
	defer epRows.Close()

	for epRows.Next() {
		var ep library.Episode
		var durMS int64
		if err := epRows.Scan(&ep.ID, &ep.Title, &durMS); err != nil {
			return err
		}
		ep.Duration = time.Duration(durMS) * time.Millisecond
		ep.Tracks = episodeTracks[ep.ID]
		item.Episodes = append(item.Episodes, ep)
	}
	return epRows.Err()
}
