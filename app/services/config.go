package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// ConfigService manages small, UI-local application configuration: window
// geometry and the log directory. Domain configuration (ADB path,
// downloads/backups locations, cleanup policy, ...) lives in
// internal/settings.Store instead.
type ConfigService struct {
	configPath string
	logger     *log.Logger
	config     *Config
}

// Config is the UI-local configuration persisted alongside the domain
// settings document.
type Config struct {
	WindowWidth  int    `json:"windowWidth"`
	WindowHeight int    `json:"windowHeight"`
	WindowX      int    `json:"windowX"`
	WindowY      int    `json:"windowY"`
	LastLogPath  string `json:"lastLogPath"`
	LogDir       string `json:"logDir"`
}

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// NewConfigService creates a new ConfigService
func NewConfigService(logger *log.Logger) (*ConfigService, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".sidedock")
	configPath := filepath.Join(configDir, "config.json")
	logDir := filepath.Join(configDir, "logs")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	service := &ConfigService{
		configPath: configPath,
		logger:     logger,
		config: &Config{
			WindowWidth:  defaultWindowWidth,
			WindowHeight: defaultWindowHeight,
			LogDir:       logDir,
		},
	}

	if err := service.Load(); err != nil {
		logger.Printf("[ConfigService] Failed to load config: %v", err)
	}

	return service, nil
}

// Load loads the configuration from disk
func (s *ConfigService) Load() error {
	s.logger.Printf("[ConfigService] Load: Loading config from %s", s.configPath)

	data, err := os.ReadFile(s.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Printf("[ConfigService] Load: Config file does not exist, using defaults")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.LogDir == "" {
		homeDir, _ := os.UserHomeDir()
		config.LogDir = filepath.Join(homeDir, ".sidedock", "logs")
	}
	if config.WindowWidth == 0 {
		config.WindowWidth = defaultWindowWidth
	}
	if config.WindowHeight == 0 {
		config.WindowHeight = defaultWindowHeight
	}

	s.config = &config
	s.logger.Printf("[ConfigService] Load: Config loaded: %dx%d @ (%d,%d), logDir=%s",
		config.WindowWidth, config.WindowHeight, config.WindowX, config.WindowY, config.LogDir)
	return nil
}

// Save saves the configuration to disk
func (s *ConfigService) Save() error {
	s.logger.Printf("[ConfigService] Save: Saving config to %s", s.configPath)

	data, err := json.MarshalIndent(s.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(s.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	s.logger.Printf("[ConfigService] Save: Config saved successfully")
	return nil
}

// GetConfig returns the current configuration
func (s *ConfigService) GetConfig() Config {
	if s.config == nil {
		return Config{}
	}
	return *s.config
}

// SetWindowGeometry records the window's last position and size and
// persists it.
func (s *ConfigService) SetWindowGeometry(x, y, width, height int) error {
	if s.config == nil {
		s.config = &Config{}
	}
	s.config.WindowX = x
	s.config.WindowY = y
	s.config.WindowWidth = width
	s.config.WindowHeight = height
	return s.Save()
}

// SetLastLogPath sets the last log path and saves the config
func (s *ConfigService) SetLastLogPath(path string) error {
	s.logger.Printf("[ConfigService] SetLastLogPath: path=%s", path)

	if s.config == nil {
		s.config = &Config{}
	}

	s.config.LastLogPath = path
	return s.Save()
}
