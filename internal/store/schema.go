package store

import (
	"database/sql"
)

const currentSchemaVersion = 2

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS playback_sessions (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL DEFAULT '',
			is_local INTEGER NOT NULL DEFAULT 0,
			library_item_id TEXT NOT NULL,
			episode_id TEXT,
			display_title TEXT NOT NULL,
			display_author TEXT,
			duration_ms INTEGER NOT NULL,
			current_time_ms INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_scope_active
			ON playback_sessions(scope, is_active);

		CREATE TABLE IF NOT EXISTS session_tracks (
			session_id TEXT NOT NULL REFERENCES playback_sessions(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			source TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, idx)
		);

		CREATE TABLE IF NOT EXISTS session_chapters (
			session_id TEXT NOT NULL REFERENCES playback_sessions(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			title TEXT,
			PRIMARY KEY (session_id, idx)
		);

		CREATE TABLE IF NOT EXISTS local_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT,
			duration_ms INTEGER NOT NULL,
			added_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS local_episodes (
			item_id TEXT NOT NULL REFERENCES local_items(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (item_id, id)
		);

		CREATE TABLE IF NOT EXISTS local_tracks (
			item_id TEXT NOT NULL REFERENCES local_items(id) ON DELETE CASCADE,
			episode_id TEXT,
			idx INTEGER NOT NULL,
			path TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_local_tracks_item ON local_tracks(item_id, idx);

		CREATE TABLE IF NOT EXISTS local_chapters (
			item_id TEXT NOT NULL REFERENCES local_items(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			title TEXT,
			PRIMARY KEY (item_id, idx)
		);

		CREATE TABLE IF NOT EXISTS player_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			playback_rate REAL NOT NULL DEFAULT 1.0
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT OR IGNORE INTO schema_version (version) VALUES (?)
	`, currentSchemaVersion)
	return err
}
