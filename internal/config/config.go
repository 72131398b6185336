package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWhisperServer = "localhost"
	DefaultWhisperPort   = "8080"
	DefaultUploadFolder  = "/tmp/uploads"
	DefaultPort          = 5000

	// DefaultMaxFileSize caps the whole request body, not just the file part.
	DefaultMaxFileSize int64 = 100 * 1024 * 1024

	DefaultTimeout        = 300 // seconds
	DefaultTemperature    = "0.2"
	DefaultResponseFormat = "json"
	DefaultModel          = "whisper-1"

	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"
)

// DefaultAllowedExtensions is the audio suffix set accepted by the upload gate.
var DefaultAllowedExtensions = []string{"wav", "mp3", "ogg", "flac", "m4a", "aac", "opus", "webm"}

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Whisper WhisperConfig `yaml:"whisper"`
	Upload  UploadConfig  `yaml:"upload"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the HTTP listener configuration
type ServerConfig struct {
	Address         string `yaml:"address"`
	Port            int    `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// WhisperConfig describes the remote transcription server
type WhisperConfig struct {
	Server         string `yaml:"server"`
	Port           string `yaml:"port"`
	Backend        string `yaml:"backend"`
	Timeout        int    `yaml:"timeout"` // seconds
	Temperature    string `yaml:"temperature"`
	ResponseFormat string `yaml:"response_format"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
}

// UploadConfig contains scratch storage and upload limits
type UploadConfig struct {
	Folder            string   `yaml:"folder"`
	MaxFileSize       int64    `yaml:"max_file_size"` // bytes
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            DefaultPort,
			ShutdownTimeout: 10,
		},
		Whisper: WhisperConfig{
			Server:         DefaultWhisperServer,
			Port:           DefaultWhisperPort,
			Backend:        BackendWhisper,
			Timeout:        DefaultTimeout,
			Temperature:    DefaultTemperature,
			ResponseFormat: DefaultResponseFormat,
			Model:          DefaultModel,
		},
		Upload: UploadConfig{
			Folder:            DefaultUploadFolder,
			MaxFileSize:       DefaultMaxFileSize,
			AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Loader builds a Config from defaults, an optional YAML file and the
// environment. Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Path   string
	Lookup func(string) (string, bool)
}

// Load reads the optional config file, applies environment overrides and
// validates the result.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Defaults()

	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", l.Path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", l.Path, err)
		}
	}

	overrideString(l.Lookup, "WHISPER_SERVER", &cfg.Whisper.Server)
	overrideString(l.Lookup, "WHISPER_PORT", &cfg.Whisper.Port)
	overrideString(l.Lookup, "WHISPER_BACKEND", &cfg.Whisper.Backend)
	overrideString(l.Lookup, "WHISPER_MODEL", &cfg.Whisper.Model)
	overrideString(l.Lookup, "WHISPER_API_KEY", &cfg.Whisper.APIKey)
	overrideString(l.Lookup, "UPLOAD_FOLDER", &cfg.Upload.Folder)
	overrideString(l.Lookup, "LOG_LEVEL", &cfg.Logging.Level)
	overrideString(l.Lookup, "LOG_FORMAT", &cfg.Logging.Format)

	if raw, ok := l.Lookup("PORT"); ok && strings.TrimSpace(raw) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}

	cfg.Whisper.Backend = strings.ToLower(cfg.Whisper.Backend)
	for i, ext := range cfg.Upload.AllowedExtensions {
		cfg.Upload.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the HTTP listener configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates the remote transcription server configuration
func (w *WhisperConfig) Validate() error {
	if w.Server == "" {
		return fmt.Errorf("server cannot be empty")
	}

	port, err := strconv.Atoi(w.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535, got '%s'", w.Port)
	}

	switch w.Backend {
	case BackendWhisper, BackendOpenAI:
	default:
		return fmt.Errorf("backend must be '%s' or '%s', got '%s'", BackendWhisper, BackendOpenAI, w.Backend)
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if _, err := strconv.ParseFloat(w.Temperature, 32); err != nil {
		return fmt.Errorf("temperature must be a number, got '%s'", w.Temperature)
	}

	if w.ResponseFormat == "" {
		return fmt.Errorf("response_format cannot be empty")
	}

	return nil
}

// Validate validates upload limits and scratch storage
func (u *UploadConfig) Validate() error {
	if u.Folder == "" {
		return fmt.Errorf("folder cannot be empty")
	}

	if u.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", u.MaxFileSize)
	}

	if len(u.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions cannot be empty")
	}

	for _, ext := range u.AllowedExtensions {
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			return fmt.Errorf("invalid extension '%s'", ext)
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ListenAddress returns the host:port the HTTP server binds to
func (s *ServerConfig) ListenAddress() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// GetShutdownTimeoutDuration returns the graceful shutdown budget as a time.Duration
func (s *ServerConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// BaseURL returns the scheme and authority of the remote server
func (w *WhisperConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(w.Server, w.Port)
}

// InferenceURL returns the whisper.cpp inference endpoint
func (w *WhisperConfig) InferenceURL() string {
	return w.BaseURL() + "/inference"
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (w *WhisperConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}
