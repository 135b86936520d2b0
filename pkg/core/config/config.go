package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read on top of the config file
const (
	EnvConfigPath = "CHATTERBOX_CONFIG"
	EnvServerURL  = "CHATTERBOX_SERVER_URL"
	EnvAPIKey     = "CHATTERBOX_API_KEY"
	EnvUIAddr     = "CHATTERBOX_UI_ADDR"
	EnvLogLevel   = "CHATTERBOX_LOG_LEVEL"
)

// DefaultServerURL is the inference server used when nothing is configured
const DefaultServerURL = "http://localhost:20480"

// Config holds the complete application configuration
type Config struct {
	General    GeneralConfig    `toml:"general" yaml:"general"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Chatterbox ChatterboxConfig `toml:"chatterbox" yaml:"chatterbox"`
	Audio      AudioConfig      `toml:"audio" yaml:"audio"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	GRPC       GRPCConfig       `toml:"grpc" yaml:"grpc"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name        string `toml:"name" yaml:"name"`
	Environment string `toml:"environment" yaml:"environment"`
	DataDir     string `toml:"data_dir" yaml:"data_dir"`
}

// ServerConfig holds the web UI server configuration
type ServerConfig struct {
	Port          int        `toml:"port" yaml:"port"`
	Host          string     `toml:"host" yaml:"host"`
	ReadTimeout   Duration   `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  Duration   `toml:"write_timeout" yaml:"write_timeout"`
	SessionTTL    Duration   `toml:"session_ttl" yaml:"session_ttl"`
	DownloadTTL   Duration   `toml:"download_ttl" yaml:"download_ttl"`
	MaxUploadSize int64      `toml:"max_upload_size" yaml:"max_upload_size"`
	CORS          CORSConfig `toml:"cors" yaml:"cors"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	AllowedOrigins []string `toml:"allowed_origins" yaml:"allowed_origins"`
}

// ChatterboxConfig holds the inference server connection
type ChatterboxConfig struct {
	ServerURL        string   `toml:"server_url" yaml:"server_url"`
	APIKey           string   `toml:"api_key" yaml:"api_key"`
	Timeout          Duration `toml:"timeout" yaml:"timeout"`
	MaxConcurrent    int      `toml:"max_concurrent" yaml:"max_concurrent"`
	DefaultVoiceMode string   `toml:"default_voice_mode" yaml:"default_voice_mode"`
	AudioFormat      string   `toml:"audio_format" yaml:"audio_format"`
	VoiceCacheTTL    Duration `toml:"voice_cache_ttl" yaml:"voice_cache_ttl"`
}

// AudioConfig holds capture and transcoding settings
type AudioConfig struct {
	ChannelPolicy  string   `toml:"channel_policy" yaml:"channel_policy"`
	CaptureTimeout Duration `toml:"capture_timeout" yaml:"capture_timeout"`
	MaxCapture     Duration `toml:"max_capture" yaml:"max_capture"`
	FFmpegPath     string   `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	TrimSilence    bool     `toml:"trim_silence" yaml:"trim_silence"`
	VADMode        int      `toml:"vad_mode" yaml:"vad_mode"`
	TempDir        string   `toml:"temp_dir" yaml:"temp_dir"`
	TempMaxAge     Duration `toml:"temp_max_age" yaml:"temp_max_age"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level         string   `toml:"level" yaml:"level"`
	Format        string   `toml:"format" yaml:"format"`
	File          string   `toml:"file" yaml:"file"`
	QueueSize     int      `toml:"queue_size" yaml:"queue_size"`
	FlushInterval Duration `toml:"flush_interval" yaml:"flush_interval"`
}

// StorageConfig holds the synthesis history store
type StorageConfig struct {
	HistoryEnabled bool   `toml:"history_enabled" yaml:"history_enabled"`
	HistoryPath    string `toml:"history_path" yaml:"history_path"`
	HistoryKeep    int    `toml:"history_keep" yaml:"history_keep"`
}

// GRPCConfig holds the ops (health/reflection) gRPC server. Port 0 disables it.
type GRPCConfig struct {
	Port int    `toml:"port" yaml:"port"`
	Host string `toml:"host" yaml:"host"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration string from YAML
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML formats the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a TOML or YAML file (chosen by extension)
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults
	cfg.applyDefaults()

	// Expand environment variables in sensitive fields
	cfg.expandEnvVars()

	return &cfg, nil
}

// LoadFromEnv loads .env files, then the config file named by CHATTERBOX_CONFIG
// or found in a default location, then applies environment overrides. Without
// any config file the defaults are used.
func LoadFromEnv(envFiles ...string) (*Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	path := os.Getenv(EnvConfigPath)
	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"./configs/chatterbox.toml",
			"./configs/chatterbox.yaml",
			"./chatterbox.toml",
			"./chatterbox.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/chatterbox-ui/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from the environment
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvServerURL); ok && v != "" {
		c.Chatterbox.ServerURL = v
	}
	if v, ok := os.LookupEnv(EnvAPIKey); ok {
		c.Chatterbox.APIKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvUIAddr); v != "" {
		host, portStr, found := strings.Cut(v, ":")
		if !found {
			return fmt.Errorf("%s must be host:port, got %q", EnvUIAddr, v)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%s has invalid port: %w", EnvUIAddr, err)
		}
		if host != "" {
			c.Server.Host = host
		}
		c.Server.Port = port
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.Name == "" {
		c.General.Name = "chatterbox-ui"
	}
	if c.General.Environment == "" {
		c.General.Environment = "development"
	}
	if c.General.DataDir == "" {
		c.General.DataDir = "./data"
	}

	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 30 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 300 * time.Second
	}
	if c.Server.SessionTTL.Duration == 0 {
		c.Server.SessionTTL.Duration = 30 * time.Minute
	}
	if c.Server.DownloadTTL.Duration == 0 {
		c.Server.DownloadTTL.Duration = 60 * time.Second
	}
	if c.Server.MaxUploadSize == 0 {
		c.Server.MaxUploadSize = 50 << 20
	}

	// Chatterbox
	if c.Chatterbox.ServerURL == "" {
		c.Chatterbox.ServerURL = DefaultServerURL
	}
	if c.Chatterbox.Timeout.Duration == 0 {
		c.Chatterbox.Timeout.Duration = 5 * time.Minute
	}
	if c.Chatterbox.MaxConcurrent == 0 {
		c.Chatterbox.MaxConcurrent = 4
	}
	if c.Chatterbox.DefaultVoiceMode == "" {
		c.Chatterbox.DefaultVoiceMode = "default"
	}
	if c.Chatterbox.AudioFormat == "" {
		c.Chatterbox.AudioFormat = "wav"
	}
	if c.Chatterbox.VoiceCacheTTL.Duration == 0 {
		c.Chatterbox.VoiceCacheTTL.Duration = 10 * time.Second
	}

	// Audio
	if c.Audio.ChannelPolicy == "" {
		c.Audio.ChannelPolicy = "first"
	}
	if c.Audio.CaptureTimeout.Duration == 0 {
		c.Audio.CaptureTimeout.Duration = 10 * time.Second
	}
	if c.Audio.MaxCapture.Duration == 0 {
		c.Audio.MaxCapture.Duration = 5 * time.Minute
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = "ffmpeg"
	}
	if c.Audio.TempDir == "" {
		c.Audio.TempDir = os.TempDir()
	}
	if c.Audio.TempMaxAge.Duration == 0 {
		c.Audio.TempMaxAge.Duration = time.Hour
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.File == "" {
		c.Logging.File = "chatterbox-ui.log"
	}
	if c.Logging.QueueSize == 0 {
		c.Logging.QueueSize = 1024
	}
	if c.Logging.FlushInterval.Duration == 0 {
		c.Logging.FlushInterval.Duration = 2 * time.Second
	}

	// Storage
	if c.Storage.HistoryPath == "" {
		c.Storage.HistoryPath = filepath.Join(c.General.DataDir, "history.db")
	}
	if c.Storage.HistoryKeep == 0 {
		c.Storage.HistoryKeep = 200
	}

	// gRPC
	if c.GRPC.Host == "" {
		c.GRPC.Host = "127.0.0.1"
	}
}

// expandEnvVars expands environment variables in sensitive fields
func (c *Config) expandEnvVars() {
	c.Chatterbox.APIKey = os.ExpandEnv(c.Chatterbox.APIKey)
	c.Chatterbox.ServerURL = os.ExpandEnv(c.Chatterbox.ServerURL)
	c.Audio.TempDir = os.ExpandEnv(c.Audio.TempDir)
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("grpc: invalid port %d", c.GRPC.Port)
	}
	if c.GRPC.Port != 0 && c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("grpc: port %d already used by the web server", c.GRPC.Port)
	}

	u, err := url.Parse(c.Chatterbox.ServerURL)
	if err != nil {
		return fmt.Errorf("chatterbox: invalid server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("chatterbox: server_url must use http or https, got %q", c.Chatterbox.ServerURL)
	}
	if c.Chatterbox.MaxConcurrent < 1 {
		return fmt.Errorf("chatterbox: max_concurrent must be positive")
	}
	switch c.Chatterbox.DefaultVoiceMode {
	case "default", "predefined", "clone":
	default:
		return fmt.Errorf("chatterbox: unknown default_voice_mode %q", c.Chatterbox.DefaultVoiceMode)
	}
	// Playback, downloads and history all assume a WAV container
	if c.Chatterbox.AudioFormat != "wav" {
		return fmt.Errorf("chatterbox: unsupported audio_format %q", c.Chatterbox.AudioFormat)
	}

	switch c.Audio.ChannelPolicy {
	case "first", "downmix":
	default:
		return fmt.Errorf("audio: unknown channel_policy %q", c.Audio.ChannelPolicy)
	}
	if c.Audio.VADMode < 0 || c.Audio.VADMode > 3 {
		return fmt.Errorf("audio: vad_mode must be between 0 and 3")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	if c.Logging.QueueSize < 1 {
		return fmt.Errorf("logging: queue_size must be positive")
	}

	return nil
}

// Address returns the web UI listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddress returns the ops gRPC listen address
func (c *Config) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.GRPC.Host, c.GRPC.Port)
}
