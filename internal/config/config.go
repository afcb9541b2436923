package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	DataDir string `koanf:"data_dir"` // empty means use the xdg default
	Debug   bool   `koanf:"debug"`

	// Server connection (enables remote playback when configured)
	Server ServerConfig `koanf:"server"`

	// Player defaults
	Player PlayerConfig `koanf:"player"`

	// Sleep timer behavior
	Sleep SleepConfig `koanf:"sleep"`

	// Local library folders to import from
	LibrarySources []string `koanf:"library_sources"`
}

// ServerConfig identifies one audiobook server connection.
type ServerConfig struct {
	ID      string `koanf:"id"`      // connection scope id; defaults to the address
	Address string `koanf:"address"` // e.g., "https://abs.example.com"
	Token   string `koanf:"token"`   // API token
	Version string `koanf:"version"` // last known server version, e.g., "2.17.0"
}

// PlayerConfig holds playback defaults.
type PlayerConfig struct {
	PlaybackRate float64 `koanf:"playback_rate"` // 0.5-3.0 (default: 1.0)
	SeekForward  int     `koanf:"seek_forward"`  // jump-forward seconds (default: 30)
	SeekBackward int     `koanf:"seek_backward"` // jump-backward seconds (default: 10)
}

// SleepConfig holds sleep timer configuration.
type SleepConfig struct {
	FadeOut     *bool `koanf:"fade_out"`     // ramp volume down before the pause (default: true)
	FadeSeconds int   `koanf:"fade_seconds"` // trailing fade window (default: 60)
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Try config files in order of priority (last wins)
	configPaths := getConfigPaths()

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}

	if cfg.DataDir != "" {
		cfg.DataDir = expandPath(cfg.DataDir)
	}

	for i, src := range cfg.LibrarySources {
		cfg.LibrarySources[i] = expandPath(src)
	}

	// Normalize server address (remove trailing slash)
	cfg.Server.Address = strings.TrimSuffix(cfg.Server.Address, "/")
	if cfg.Server.ID == "" {
		cfg.Server.ID = cfg.Server.Address
	}

	return cfg, nil
}

func getConfigPaths() []string {
	paths := []string{}

	// 1. ~/.config/shelf/config.toml
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shelf", "config.toml"))
	}

	// 2. ./config.toml (pwd, highest priority)
	paths = append(paths, "config.toml")

	return paths
}

func expandPath(path string) string {
	if path != "" && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasServerConfig returns true if a server connection is configured.
func (c *Config) HasServerConfig() bool {
	return c.Server.Address != "" && c.Server.Token != ""
}

// GetPlayerConfig returns the player configuration with defaults applied.
func (c *Config) GetPlayerConfig() PlayerConfig {
	cfg := c.Player

	if cfg.PlaybackRate < 0.5 || cfg.PlaybackRate > 3.0 {
		cfg.PlaybackRate = 1.0
	}
	if cfg.SeekForward <= 0 {
		cfg.SeekForward = 30
	}
	if cfg.SeekBackward <= 0 {
		cfg.SeekBackward = 10
	}

	return cfg
}

// GetSleepConfig returns the sleep timer configuration with defaults applied.
func (c *Config) GetSleepConfig() SleepConfig {
	cfg := c.Sleep

	if cfg.FadeOut == nil {
		enabled := true
		cfg.FadeOut = &enabled
	}
	if cfg.FadeSeconds <= 0 {
		cfg.FadeSeconds = 60
	}

	return cfg
}
