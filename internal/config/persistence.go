package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/espulse/espulse/internal/models"
)

const (
	connectionsFile = "connections.json"
	settingsFile    = "settings.json"
)

// Settings are the persisted scalar preferences. Both stores are
// best-effort: load failures fall back to defaults and save failures are
// logged but never propagate into the polling path.
type Settings struct {
	PollIntervalMs     int    `json:"pollIntervalMs"`
	ActiveConnectionID string `json:"activeConnectionId"`
}

// ConfigPersistence saves and loads connection and settings files under a
// config directory. Connection files may hold credentials, so everything
// is written 0600 under a 0700 directory.
type ConfigPersistence struct {
	mu        sync.Mutex
	configDir string
}

// NewConfigPersistence creates a persistence layer rooted at configDir.
func NewConfigPersistence(configDir string) *ConfigPersistence {
	return &ConfigPersistence{configDir: configDir}
}

// ConnectionsPath returns the path of the connections file, which the
// config watcher monitors for external edits.
func (c *ConfigPersistence) ConnectionsPath() string {
	return filepath.Join(c.configDir, connectionsFile)
}

// SaveConnections persists the connection list.
func (c *ConfigPersistence) SaveConnections(connections []models.ClusterConnection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(connections, "", "  ")
	if err != nil {
		return err
	}
	return c.writeConfigFileLocked(c.ConnectionsPath(), data)
}

// LoadConnections reads the persisted connection list. A missing file is
// not an error and yields an empty list.
func (c *ConfigPersistence) LoadConnections() ([]models.ClusterConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.ConnectionsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var connections []models.ClusterConnection
	if err := json.Unmarshal(data, &connections); err != nil {
		return nil, err
	}
	return connections, nil
}

// SaveSettings persists the scalar preferences.
func (c *ConfigPersistence) SaveSettings(settings Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return c.writeConfigFileLocked(filepath.Join(c.configDir, settingsFile), data)
}

// LoadSettings reads the persisted preferences, falling back to defaults
// for anything missing or unreadable.
func (c *ConfigPersistence) LoadSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := Settings{PollIntervalMs: DefaultPollIntervalMs}

	data, err := os.ReadFile(filepath.Join(c.configDir, settingsFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Msg("Failed to read settings file, using defaults")
		}
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		log.Warn().Err(err).Msg("Failed to parse settings file, using defaults")
		return Settings{PollIntervalMs: DefaultPollIntervalMs}
	}

	settings.PollIntervalMs = ClampPollInterval(settings.PollIntervalMs)
	return settings
}

func (c *ConfigPersistence) writeConfigFileLocked(path string, data []byte) error {
	if err := os.MkdirAll(c.configDir, 0700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
