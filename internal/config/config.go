// Package config loads the YAML configuration shared by the staff detection binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/KhawLiang/Staff-Detection/internal/detector"
	"github.com/KhawLiang/Staff-Detection/internal/sink"
)

// DataDirName is the per-user directory holding the session database and helper files.
const DataDirName = ".staff-detection"

// Config is the complete configuration.
type Config struct {
	Video     string          `yaml:"video"`
	OutputDir string          `yaml:"output_dir"`
	Codec     string          `yaml:"codec"`
	Extension string          `yaml:"extension"`
	Detector  detector.Config `yaml:"detector"`
	Annotate  AnnotateConfig  `yaml:"annotate"`
	Display   DisplayConfig   `yaml:"display"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
}

// AnnotateConfig controls the overlay.
type AnnotateConfig struct {
	ShowCoordinates bool `yaml:"show_coordinates"`
}

// DisplayConfig controls the live preview.
type DisplayConfig struct {
	Window     bool   `yaml:"window"`
	WindowName string `yaml:"window_name"`
	QuitKey    string `yaml:"quit_key"`
	WaitMs     int    `yaml:"wait_ms"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
}

// ServerConfig controls the operator HTTP surface.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// StoreConfig controls the session history database.
type StoreConfig struct {
	// Path of the SQLite file. Empty means ~/.staff-detection/sessions.db.
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		OutputDir: ".",
		Codec:     sink.DefaultCodec,
		Extension: sink.DefaultExtension,
		Detector:  detector.DefaultConfig(),
		Display: DisplayConfig{
			Window:     true,
			WindowName: "Staff detection",
			QuitKey:    "q",
			WaitMs:     30,
			Width:      640,
			Height:     480,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the validated defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	return Load(path)
}

// Validate checks the configuration and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Codec == "" {
		cfg.Codec = sink.DefaultCodec
	}
	if utf8.RuneCountInString(cfg.Codec) != 4 {
		return fmt.Errorf("codec must be a four character code, got %q", cfg.Codec)
	}
	if cfg.Extension == "" {
		cfg.Extension = sink.DefaultExtension
	}

	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}

	if cfg.Display.QuitKey == "" {
		cfg.Display.QuitKey = "q"
	}
	if utf8.RuneCountInString(cfg.Display.QuitKey) != 1 {
		return fmt.Errorf("display.quit_key must be a single character, got %q", cfg.Display.QuitKey)
	}
	if cfg.Display.WaitMs <= 0 {
		cfg.Display.WaitMs = 1
	}
	if cfg.Display.Width < 0 || cfg.Display.Height < 0 {
		return fmt.Errorf("display size must not be negative")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	return nil
}

func validateDetector(d *detector.Config) error {
	if d.Backend == "" {
		d.Backend = detector.BackendDNN
	}

	switch d.Backend {
	case detector.BackendDNN:
		if d.Model == "" {
			return fmt.Errorf("model is required for the %s backend", d.Backend)
		}
	case detector.BackendProcess:
		if d.Script == "" {
			return fmt.Errorf("script is required for the %s backend", d.Backend)
		}
	case detector.BackendHTTP:
		if d.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the %s backend", d.Backend)
		}
	case detector.BackendMock:
	default:
		return fmt.Errorf("%w: %q", detector.ErrUnknownBackend, d.Backend)
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0, 1], got %v", d.Confidence)
	}
	if d.NMS < 0 || d.NMS > 1 {
		return fmt.Errorf("nms must be within [0, 1], got %v", d.NMS)
	}
	if d.InputSize <= 0 {
		d.InputSize = 640
	}
	if d.TimeoutMs <= 0 {
		d.TimeoutMs = 5000
	}
	return nil
}

// QuitRune returns the configured quit key.
func (c *Config) QuitRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Display.QuitKey)
	return r
}

// StorePath returns the session database path, resolving the default location.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DataDirName, "sessions.db"), nil
}
