package store

import "database/sql"

// PlayerSettings holds user playback preferences that outlive a session.
type PlayerSettings struct {
	PlaybackRate float64
}

// GetPlayerSettings returns the stored settings, or defaults when none are
// stored yet.
func (m *Manager) GetPlayerSettings() (PlayerSettings, error) {
	settings := PlayerSettings{PlaybackRate: 1.0}

	row := m.db.QueryRow(`SELECT playback_rate FROM player_settings WHERE id = 1`)
	err := row.Scan(&settings.PlaybackRate)
	if err == sql.ErrNoRows {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	return settings, nil
}

// SavePlaybackRate persists just the playback rate.
func (m *Manager) SavePlaybackRate(rate float64) error {
	settings, err := m.GetPlayerSettings()
	if err != nil {
		return err
	}
	settings.PlaybackRate = rate
	return m.SavePlayerSettings(settings)
}

// SavePlayerSettings persists the settings.
func (m *Manager) SavePlayerSettings(settings PlayerSettings) error {
	_, err := m.db.Exec(`
		INSERT INTO player_settings (id, playback_rate) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET playback_rate = excluded.playback_rate
	`, settings.PlaybackRate)
	return err
}
