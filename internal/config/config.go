package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/menta2k/visual-dictionary/internal/utils"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. VISUALDICT_BACKEND_MODEL
	EnvPrefix = "VISUALDICT"

	APIKeyFileEnvVar   = "OPENAI_API_KEY_FILE"
	APIKeyEnvVar       = "OPENAI_API_KEY"
	LegacyAPIKeyEnvVar = "VITE_OPENAI_API_KEY"
)

// Config holds the application configuration
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" json:"backend"`
	Image     ImageConfig     `mapstructure:"image" json:"image"`
	Cropper   CropperConfig   `mapstructure:"cropper" json:"cropper"`
	Languages LanguagesConfig `mapstructure:"languages" json:"languages"`
	Store     StoreConfig     `mapstructure:"store" json:"store"`
	Camera    CameraConfig    `mapstructure:"camera" json:"camera"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
}

// BackendConfig selects the vision model service
type BackendConfig struct {
	// Kind is openai or ollama
	Kind    string        `mapstructure:"kind" json:"kind"`
	URL     string        `mapstructure:"url" json:"url"`
	Model   string        `mapstructure:"model" json:"model"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
}

// ImageConfig controls loading and upload encoding
type ImageConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" json:"max_bytes"`
	// UploadFormat re-encodes images before upload; empty sends them as loaded
	UploadFormat string `mapstructure:"upload_format" json:"upload_format"`
	MaxDim       int    `mapstructure:"max_dim" json:"max_dim"`
	Quality      int    `mapstructure:"quality" json:"quality"`
}

// CropperConfig holds configuration for thumbnails
type CropperConfig struct {
	Format  string `mapstructure:"format" json:"format"`
	Quality int    `mapstructure:"quality" json:"quality"`
	MaxSide int    `mapstructure:"max_side" json:"max_side"`
}

// LanguagesConfig is the default language pair of new sessions
type LanguagesConfig struct {
	From string `mapstructure:"from" json:"from"`
	To   string `mapstructure:"to" json:"to"`
}

// StoreConfig selects where dictionary entries are kept
type StoreConfig struct {
	// Kind is file, mysql or memory
	Kind string `mapstructure:"kind" json:"kind"`
	Path string `mapstructure:"path" json:"path"`
	DSN  string `mapstructure:"dsn" json:"dsn,omitempty"`
}

// CameraConfig configures the snapshot camera; an empty URL disables it
type CameraConfig struct {
	SnapshotURL string `mapstructure:"snapshot_url" json:"snapshot_url"`
	Facing      string `mapstructure:"facing" json:"facing"`
	IdealWidth  int    `mapstructure:"ideal_width" json:"ideal_width"`
	IdealHeight int    `mapstructure:"ideal_height" json:"ideal_height"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr       string        `mapstructure:"addr" json:"addr"`
	SessionTTL time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
}

// LogConfig controls log output
type LogConfig struct {
	File  string `mapstructure:"file" json:"file"`
	Debug bool   `mapstructure:"debug" json:"debug"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:    "openai",
			URL:     "https://api.openai.com",
			Model:   "gpt-5.2",
			Timeout: 2 * time.Minute,
		},
		Image: ImageConfig{
			MaxBytes: 20 << 20,
			MaxDim:   0,
			Quality:  90,
		},
		Cropper: CropperConfig{
			Format:  "jpg",
			Quality: 92,
		},
		Languages: LanguagesConfig{
			From: "Ukrainian",
			To:   "English",
		},
		Store: StoreConfig{
			Kind: "file",
			Path: defaultStorePath(),
		},
		Camera: CameraConfig{
			Facing:      "environment",
			IdealWidth:  1920,
			IdealHeight: 1080,
		},
		Server: ServerConfig{
			Addr:       ":8080",
			SessionTTL: 30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, an optional config file, a
// .env file in the working directory and VISUALDICT_ environment variables.
// A missing file at the default path is not an error.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if filename == "" {
		if p := GetConfigPath(); utils.FileExists(p) {
			filename = p
		}
	}

	v := newViper()
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Backend.APIKey == "" {
		key, err := ResolveAPIKey()
		if err != nil {
			return nil, err
		}
		cfg.Backend.APIKey = key
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file on top of
// the defaults. The format follows the file extension.
func LoadFromFile(filename string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so environment overrides reach Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend.kind", d.Backend.Kind)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("backend.api_key", d.Backend.APIKey)

	v.SetDefault("image.max_bytes", d.Image.MaxBytes)
	v.SetDefault("image.upload_format", d.Image.UploadFormat)
	v.SetDefault("image.max_dim", d.Image.MaxDim)
	v.SetDefault("image.quality", d.Image.Quality)

	v.SetDefault("cropper.format", d.Cropper.Format)
	v.SetDefault("cropper.quality", d.Cropper.Quality)
	v.SetDefault("cropper.max_side", d.Cropper.MaxSide)

	v.SetDefault("languages.from", d.Languages.From)
	v.SetDefault("languages.to", d.Languages.To)

	v.SetDefault("store.kind", d.Store.Kind)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)

	v.SetDefault("camera.snapshot_url", d.Camera.SnapshotURL)
	v.SetDefault("camera.facing", d.Camera.Facing)
	v.SetDefault("camera.ideal_width", d.Camera.IdealWidth)
	v.SetDefault("camera.ideal_height", d.Camera.IdealHeight)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.session_ttl", d.Server.SessionTTL)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.debug", d.Log.Debug)
}

// ResolveAPIKey returns the inference API key from, in order, the file named
// by OPENAI_API_KEY_FILE, OPENAI_API_KEY and VITE_OPENAI_API_KEY
func ResolveAPIKey() (string, error) {
	if path := strings.TrimSpace(os.Getenv(APIKeyFileEnvVar)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read API key file: %w", err)
		}
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	}
	if key := strings.TrimSpace(os.Getenv(APIKeyEnvVar)); key != "" {
		return key, nil
	}
	return strings.TrimSpace(os.Getenv(LegacyAPIKeyEnvVar)), nil
}

// SaveToFile saves configuration to a JSON file. The API key is never written.
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "openai":
		if c.Backend.APIKey == "" {
			return fmt.Errorf("backend.api_key is required for the openai backend (set %s or %s)", APIKeyEnvVar, APIKeyFileEnvVar)
		}
	case "ollama":
	default:
		return fmt.Errorf("backend.kind must be openai or ollama, got %q", c.Backend.Kind)
	}

	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model cannot be empty")
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout cannot be negative")
	}

	if c.Image.MaxBytes < 1 {
		return fmt.Errorf("image.max_bytes must be positive")
	}

	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100")
	}

	if c.Image.MaxDim < 0 {
		return fmt.Errorf("image.max_dim cannot be negative")
	}

	if c.Cropper.Quality < 1 || c.Cropper.Quality > 100 {
		return fmt.Errorf("cropper.quality must be between 1 and 100")
	}

	if !validFormat(c.Cropper.Format) {
		return fmt.Errorf("cropper.format must be jpg, png or webp")
	}

	if c.Image.UploadFormat != "" && !validFormat(c.Image.UploadFormat) {
		return fmt.Errorf("image.upload_format must be jpg, png or webp")
	}

	if c.Languages.To == "" && c.Languages.From == "" {
		return fmt.Errorf("languages.to cannot be empty")
	}

	if err := c.ValidateStore(); err != nil {
		return err
	}

	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("server.session_ttl must be positive")
	}

	return nil
}

// ValidateStore checks only the dictionary store settings. Listing and
// deleting entries need nothing else.
func (c *Config) ValidateStore() error {
	switch c.Store.Kind {
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the mysql store")
		}
	case "memory":
	default:
		return fmt.Errorf("store.kind must be file, mysql or memory, got %q", c.Store.Kind)
	}
	return nil
}

func validFormat(format string) bool {
	switch strings.ToLower(format) {
	case "jpg", "jpeg", "png", "webp":
		return true
	}
	return false
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "visual-dictionary", "config.json")
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./dictionary.json"
	}
	return filepath.Join(home, ".local", "share", "visual-dictionary", "dictionary.json")
}
