package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

var (
	ErrMapNotFound = errors.New("map configuration not found")
	ErrInvalidMap  = errors.New("invalid map configuration")
)

// DefaultMapName is preferred as the default map when present
const DefaultMapName = "map1-rect"

// Manager handles map configuration loading and caching
type Manager struct {
	configDir   string
	defaultName string
	configs     map[string]*MapConfig
	maps        map[string]*world.Map
	mu          sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configDir string) (*Manager, error) {
	// Ensure config directory exists
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config directory does not exist: %s", configDir)
	}

	m := &Manager{
		configDir: configDir,
		configs:   make(map[string]*MapConfig),
		maps:      make(map[string]*world.Map),
	}

	if err := m.loadDefault(); err != nil {
		return nil, fmt.Errorf("failed to load default map: %w", err)
	}

	return m, nil
}

// ConfigDir returns the directory maps are loaded from
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// mapID strips the .json extension and rejects names that would escape
// the config directory.
func mapID(name string) (string, error) {
	id := strings.TrimSuffix(name, ".json")
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrMapNotFound, name)
	}
	return id, nil
}

// LoadConfig loads a map configuration by name
func (m *Manager) LoadConfig(name string) (*MapConfig, error) {
	id, err := mapID(name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	// Check cache first
	if config, exists := m.configs[id]; exists {
		m.mu.RUnlock()
		return config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadConfigLocked(id)
}

func (m *Manager) loadConfigLocked(id string) (*MapConfig, error) {
	// Double-check after acquiring write lock
	if config, exists := m.configs[id]; exists {
		return config, nil
	}

	data, err := os.ReadFile(filepath.Join(m.configDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMapNotFound, id)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config MapConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidMap, id, err)
	}

	if err := ValidateMapConfig(&config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMap, id, err)
	}

	m.configs[id] = &config
	return &config, nil
}

// LoadMap builds the world map of a configuration together with its
// engine configuration. Built maps are cached; they are immutable and
// safe to share.
func (m *Manager) LoadMap(name string) (*world.Map, engine.Config, error) {
	id, err := mapID(name)
	if err != nil {
		return nil, engine.Config{}, err
	}
	config, err := m.LoadConfig(id)
	if err != nil {
		return nil, engine.Config{}, err
	}

	m.mu.RLock()
	built, exists := m.maps[id]
	m.mu.RUnlock()
	if exists {
		return built, config.EngineConfig(id), nil
	}

	built, err = m.build(id, config)
	if err != nil {
		return nil, engine.Config{}, err
	}

	m.mu.Lock()
	if cached, exists := m.maps[id]; exists {
		built = cached
	} else {
		m.maps[id] = built
	}
	m.mu.Unlock()

	return built, config.EngineConfig(id), nil
}

func (m *Manager) build(id string, config *MapConfig) (*world.Map, error) {
	if config.Image != "" {
		built, err := world.Load(id, filepath.Join(m.configDir, config.Image))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMap, id, err)
		}
		return built, nil
	}

	built, err := world.FromLayout(id, config.Layout, config.scale())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMap, id, err)
	}
	return built, nil
}

// ListConfigs returns information about all available maps. Invalid
// files are skipped.
func (m *Manager) ListConfigs() ([]*MapInfo, error) {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var maps []*MapInfo

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		built, engineCfg, err := m.LoadMap(id)
		if err != nil {
			continue
		}
		config, _ := m.LoadConfig(id)

		maps = append(maps, &MapInfo{
			Filename:    entry.Name(),
			MapID:       id,
			Name:        config.Name,
			Description: config.Description,
			Width:       built.Width(),
			Height:      built.Height(),
			Start:       engineCfg.Start,
		})
	}

	return maps, nil
}

// GetDefault returns the id of the default map, or "" when the
// directory holds no valid map.
func (m *Manager) GetDefault() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultName
}

// SetDefault sets the default map by name
func (m *Manager) SetDefault(name string) error {
	id, err := mapID(name)
	if err != nil {
		return err
	}
	if _, err := m.LoadConfig(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultName = id
	return nil
}

// RefreshCache drops cached configurations and maps so they are read
// from disk again.
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.configs = make(map[string]*MapConfig)
	m.maps = make(map[string]*world.Map)
	m.mu.Unlock()

	return m.loadDefault()
}

// loadDefault prefers DefaultMapName, then the first valid map
func (m *Manager) loadDefault() error {
	if _, err := m.LoadConfig(DefaultMapName); err == nil {
		m.mu.Lock()
		m.defaultName = DefaultMapName
		m.mu.Unlock()
		return nil
	}

	maps, err := m.ListConfigs()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultName = ""
	if len(maps) > 0 {
		m.defaultName = maps[0].MapID
	}
	return nil
}

// SaveConfig validates a map configuration and writes it to disk
func (m *Manager) SaveConfig(name string, config *MapConfig) error {
	id, err := mapID(name)
	if err != nil {
		return err
	}
	if err := ValidateMapConfig(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.configDir, id+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.mu.Lock()
	m.configs[id] = config
	delete(m.maps, id)
	m.mu.Unlock()

	return nil
}
