// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/upload"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend is the pipeline service the client talks to.
	Backend BackendConfig `toml:"backend" json:"backend"`

	Stream   StreamConfig   `toml:"stream" json:"stream"`
	Upload   UploadConfig   `toml:"upload" json:"upload"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	KBCache  KBCacheConfig  `toml:"kb_cache" json:"kb_cache"`
	Pipeline PipelineConfig `toml:"pipeline" json:"pipeline"`
	Log      LogConfig      `toml:"log" json:"log"`
	UI       UIConfig       `toml:"ui" json:"ui"`

	// Server configures the local pipeline server started by `rigchat serve`.
	Server ServerConfig `toml:"server" json:"server"`
}

// BackendConfig locates and authenticates against the pipeline backend.
type BackendConfig struct {
	URL    string `toml:"url" json:"url"`
	APIKey string `toml:"api_key" json:"api_key"`
	// User is sent as the `user` field of every chat request.
	User string `toml:"user" json:"user"`
	// ModelOwner is sent with uploads.
	ModelOwner string `toml:"model_owner" json:"model_owner"`
}

// StreamConfig tunes response streaming.
type StreamConfig struct {
	// ReadTimeoutSecs aborts a stream when no bytes arrive for this long.
	ReadTimeoutSecs int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	MaxRetries      int `toml:"max_retries" json:"max_retries"`
	// MaxFPS caps how often streamed text is redrawn.
	MaxFPS int `toml:"max_fps" json:"max_fps"`
}

// UploadConfig bounds attachment uploads.
type UploadConfig struct {
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	Concurrency int `toml:"concurrency" json:"concurrency"`
	MaxFiles    int `toml:"max_files" json:"max_files"`
	// ImageAggregateMB is the total image size above which images are
	// recompressed before upload.
	ImageAggregateMB int `toml:"image_aggregate_mb" json:"image_aggregate_mb"`
	MaxFileMB        int `toml:"max_file_mb" json:"max_file_mb"`
}

// StorageConfig selects where conversations are persisted.
type StorageConfig struct {
	// Backend is one of: memory, file, sqlite.
	Backend string `toml:"backend" json:"backend"`
	// Path is a directory for "file" and a database file for "sqlite".
	// Empty means inside ConfigDir.
	Path             string `toml:"path" json:"path"`
	MaxConversations int    `toml:"max_conversations" json:"max_conversations"`
	// Watch reloads state written by another rigchat process (file backend).
	Watch bool `toml:"watch" json:"watch"`
}

// KBCacheConfig configures the knowledge-base listing cache.
type KBCacheConfig struct {
	// Backend is one of: store, redis, off.
	Backend       string `toml:"backend" json:"backend"`
	TTLHours      int    `toml:"ttl_hours" json:"ttl_hours"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
}

// PipelineConfig selects the pipeline registry and defaults.
type PipelineConfig struct {
	// RegistryPath points at a pipelines.yaml; empty uses the built-in one.
	RegistryPath string `toml:"registry_path" json:"registry_path"`
	// Default overrides the registry's default pipeline.
	Default string `toml:"default" json:"default"`
	// PerformanceLevels overrides the registry-wide performance options.
	PerformanceLevels []string `toml:"performance_levels" json:"performance_levels"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Format is one of: text, json.
	Format string `toml:"format" json:"format"`
	// File receives logs; empty means ConfigDir/rigchat.log for the TUI and
	// stderr otherwise.
	File string `toml:"file" json:"file"`
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	// Plain disables colors and markdown styling.
	Plain bool `toml:"plain" json:"plain"`
	// ShowMetadata shows the model/token footer under bot messages.
	ShowMetadata bool `toml:"show_metadata" json:"show_metadata"`
}

// ServerConfig configures the local pipeline server.
type ServerConfig struct {
	Addr  string `toml:"addr" json:"addr"`
	Token string `toml:"token" json:"token"`
	// ChunkDelayMs spaces streamed chunks so rendering can be observed.
	ChunkDelayMs int `toml:"chunk_delay_ms" json:"chunk_delay_ms"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default values.
const (
	DefaultVersion         = "1"
	DefaultBackendURL      = "http://127.0.0.1:8790"
	DefaultUser            = "rigchat"
	DefaultReadTimeoutSecs = 60
	DefaultMaxRetries      = 3
	DefaultMaxFPS          = 30
	DefaultUploadTimeout   = 300
	DefaultConcurrency     = 3
	DefaultStorageBackend  = "file"
	DefaultMaxConvos       = 100
	DefaultKBCacheBackend  = "store"
	DefaultKBCacheTTLHours = 24
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultServerAddr      = "127.0.0.1:8790"
)

// Default returns a new Config with default values.
func Default() *Config {
	limits := upload.DefaultLimits()
	return &Config{
		Version: DefaultVersion,
		Backend: BackendConfig{
			URL:  DefaultBackendURL,
			User: DefaultUser,
		},
		Stream: StreamConfig{
			ReadTimeoutSecs: DefaultReadTimeoutSecs,
			MaxRetries:      DefaultMaxRetries,
			MaxFPS:          DefaultMaxFPS,
		},
		Upload: UploadConfig{
			TimeoutSecs:      DefaultUploadTimeout,
			Concurrency:      DefaultConcurrency,
			MaxFiles:         limits.MaxFiles,
			ImageAggregateMB: int(limits.ImageAggregateBytes / (1024 * 1024)),
			MaxFileMB:        int(limits.MaxFileBytes / (1024 * 1024)),
		},
		Storage: StorageConfig{
			Backend:          DefaultStorageBackend,
			MaxConversations: DefaultMaxConvos,
		},
		KBCache: KBCacheConfig{
			Backend:  DefaultKBCacheBackend,
			TTLHours: DefaultKBCacheTTLHours,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		UI: UIConfig{
			ShowMetadata: true,
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ReadTimeout returns the stream idle-read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Stream.ReadTimeoutSecs) * time.Second
}

// UploadTimeout returns the per-file upload timeout.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Upload.TimeoutSecs) * time.Second
}

// KBCacheTTL returns how long knowledge-base listings stay cached.
func (c *Config) KBCacheTTL() time.Duration {
	return time.Duration(c.KBCache.TTLHours) * time.Hour
}

// UploadLimits converts the upload section to coordinator limits.
func (c *Config) UploadLimits() upload.Limits {
	l := upload.DefaultLimits()
	l.MaxFiles = c.Upload.MaxFiles
	l.ImageAggregateBytes = int64(c.Upload.ImageAggregateMB) * 1024 * 1024
	l.MaxFileBytes = int64(c.Upload.MaxFileMB) * 1024 * 1024
	return l
}

// StoragePath resolves the storage location, defaulting inside ConfigDir.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(dir, "rigchat.db"), nil
	}
	return filepath.Join(dir, "state"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory. RIGCHAT_HOME
// overrides the default ~/.rigchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RIGCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions narrows config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads KEY=VALUE pairs from path (".env" when empty) into the
// process environment. Variables already set win. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the config directory.
// Tries TOML first, then JSON, and falls back to defaults.
// .env and environment overrides are applied last.
func Load() (*Config, error) {
	if err := LoadDotEnv(""); err != nil {
		return nil, err
	}

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return fillDefaults(cfg)
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return fillDefaults(cfg)
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	cfg.SetDefaults()
	return nil
}

// SetDefaults replaces zero values with defaults. Booleans are left alone.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.User == "" {
		c.Backend.User = d.Backend.User
	}

	if c.Stream.ReadTimeoutSecs == 0 {
		c.Stream.ReadTimeoutSecs = d.Stream.ReadTimeoutSecs
	}
	if c.Stream.MaxFPS == 0 {
		c.Stream.MaxFPS = d.Stream.MaxFPS
	}

	if c.Upload.TimeoutSecs == 0 {
		c.Upload.TimeoutSecs = d.Upload.TimeoutSecs
	}
	if c.Upload.Concurrency == 0 {
		c.Upload.Concurrency = d.Upload.Concurrency
	}
	if c.Upload.MaxFiles == 0 {
		c.Upload.MaxFiles = d.Upload.MaxFiles
	}
	if c.Upload.ImageAggregateMB == 0 {
		c.Upload.ImageAggregateMB = d.Upload.ImageAggregateMB
	}
	if c.Upload.MaxFileMB == 0 {
		c.Upload.MaxFileMB = d.Upload.MaxFileMB
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.MaxConversations == 0 {
		c.Storage.MaxConversations = d.Storage.MaxConversations
	}

	if c.KBCache.Backend == "" {
		c.KBCache.Backend = d.KBCache.Backend
	}
	if c.KBCache.TTLHours == 0 {
		c.KBCache.TTLHours = d.KBCache.TTLHours
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigchat configuration file\n")
	buf.WriteString("# Generated by rigchat - edit with care\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	if err := util.AtomicWriteJSON(path, cfg, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Is lets callers match config failures with model.ErrValidation.
func (e ValidateErrors) Is(target error) bool {
	return target == model.ErrValidation
}

var (
	validStorageBackends = []string{"memory", "file", "sqlite"}
	validKBBackends      = []string{"store", "redis", "off"}
	validLogLevels       = []string{"debug", "info", "warn", "error"}
	validLogFormats      = []string{"text", "json"}
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Backend
	if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("backend.url", "invalid URL '%s', must be http(s)://host[:port]", c.Backend.URL)
	}
	if strings.TrimSpace(c.Backend.User) == "" {
		add("backend.user", "must not be empty")
	}

	// Stream
	if c.Stream.ReadTimeoutSecs < 1 || c.Stream.ReadTimeoutSecs > 3600 {
		add("stream.read_timeout_secs", "must be between 1 and 3600, got %d", c.Stream.ReadTimeoutSecs)
	}
	if c.Stream.MaxRetries < 0 || c.Stream.MaxRetries > 10 {
		add("stream.max_retries", "must be between 0 and 10, got %d", c.Stream.MaxRetries)
	}
	if c.Stream.MaxFPS < 1 || c.Stream.MaxFPS > 120 {
		add("stream.max_fps", "must be between 1 and 120, got %d", c.Stream.MaxFPS)
	}

	// Upload
	if c.Upload.TimeoutSecs < 1 {
		add("upload.timeout_secs", "must be positive, got %d", c.Upload.TimeoutSecs)
	}
	if c.Upload.Concurrency < 1 || c.Upload.Concurrency > 16 {
		add("upload.concurrency", "must be between 1 and 16, got %d", c.Upload.Concurrency)
	}
	if c.Upload.MaxFiles < 1 {
		add("upload.max_files", "must be positive, got %d", c.Upload.MaxFiles)
	}
	if c.Upload.ImageAggregateMB < 1 {
		add("upload.image_aggregate_mb", "must be positive, got %d", c.Upload.ImageAggregateMB)
	}
	if c.Upload.MaxFileMB < 1 {
		add("upload.max_file_mb", "must be positive, got %d", c.Upload.MaxFileMB)
	}

	// Storage
	if !slices.Contains(validStorageBackends, c.Storage.Backend) {
		add("storage.backend", "invalid backend '%s', must be one of: %s", c.Storage.Backend, strings.Join(validStorageBackends, ", "))
	}
	if c.Storage.MaxConversations < 1 {
		add("storage.max_conversations", "must be positive, got %d", c.Storage.MaxConversations)
	}
	if c.Storage.Watch && c.Storage.Backend != "file" {
		add("storage.watch", "only supported with the file backend")
	}

	// KB cache
	if !slices.Contains(validKBBackends, c.KBCache.Backend) {
		add("kb_cache.backend", "invalid backend '%s', must be one of: %s", c.KBCache.Backend, strings.Join(validKBBackends, ", "))
	}
	if c.KBCache.Backend == "redis" && c.KBCache.RedisAddr == "" {
		add("kb_cache.redis_addr", "required when backend is redis")
	}
	if c.KBCache.TTLHours < 1 {
		add("kb_cache.ttl_hours", "must be positive, got %d", c.KBCache.TTLHours)
	}

	// Pipeline
	for i, lvl := range c.Pipeline.PerformanceLevels {
		if strings.TrimSpace(lvl) == "" {
			add(fmt.Sprintf("pipeline.performance_levels[%d]", i), "must not be empty")
		}
	}

	// Log
	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		add("log.level", "invalid level '%s', must be one of: %s", c.Log.Level, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.Log.Format)) {
		add("log.format", "invalid format '%s', must be one of: %s", c.Log.Format, strings.Join(validLogFormats, ", "))
	}

	// Server
	if c.Server.ChunkDelayMs < 0 {
		add("server.chunk_delay_ms", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// EnvOverrides lists the RIGCHAT_* variables. Unset variables leave the
// file value alone.
type EnvOverrides struct {
	BackendURL        *string  `env:"RIGCHAT_BACKEND_URL"`
	APIKey            *string  `env:"RIGCHAT_API_KEY"`
	User              *string  `env:"RIGCHAT_USER"`
	ModelOwner        *string  `env:"RIGCHAT_MODEL_OWNER"`
	ReadTimeoutSecs   *int     `env:"RIGCHAT_READ_TIMEOUT"`
	MaxRetries        *int     `env:"RIGCHAT_MAX_RETRIES"`
	StorageBackend    *string  `env:"RIGCHAT_STORAGE"`
	StoragePath       *string  `env:"RIGCHAT_STORAGE_PATH"`
	KBCacheBackend    *string  `env:"RIGCHAT_KB_CACHE"`
	RedisAddr         *string  `env:"RIGCHAT_REDIS_ADDR"`
	RedisPassword     *string  `env:"RIGCHAT_REDIS_PASSWORD"`
	RegistryPath      *string  `env:"RIGCHAT_PIPELINES"`
	DefaultPipeline   *string  `env:"RIGCHAT_PIPELINE"`
	PerformanceLevels []string `env:"RIGCHAT_PERFORMANCE_LEVELS" envSeparator:","`
	LogLevel          *string  `env:"RIGCHAT_LOG_LEVEL"`
	LogFormat         *string  `env:"RIGCHAT_LOG_FORMAT"`
	LogFile           *string  `env:"RIGCHAT_LOG_FILE"`
	Plain             *bool    `env:"RIGCHAT_PLAIN"`
	ServerAddr        *string  `env:"RIGCHAT_SERVER_ADDR"`
	ServerToken       *string  `env:"RIGCHAT_SERVER_TOKEN"`
}

// ApplyEnvOverrides applies RIGCHAT_* environment variables to the config.
// A variable that does not parse is an error.
func (c *Config) ApplyEnvOverrides() error {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	setString(&c.Backend.URL, o.BackendURL)
	setString(&c.Backend.APIKey, o.APIKey)
	setString(&c.Backend.User, o.User)
	setString(&c.Backend.ModelOwner, o.ModelOwner)
	if o.ReadTimeoutSecs != nil {
		c.Stream.ReadTimeoutSecs = *o.ReadTimeoutSecs
	}
	if o.MaxRetries != nil {
		c.Stream.MaxRetries = *o.MaxRetries
	}
	setString(&c.Storage.Backend, o.StorageBackend)
	setString(&c.Storage.Path, o.StoragePath)
	setString(&c.KBCache.Backend, o.KBCacheBackend)
	setString(&c.KBCache.RedisAddr, o.RedisAddr)
	setString(&c.KBCache.RedisPassword, o.RedisPassword)
	setString(&c.Pipeline.RegistryPath, o.RegistryPath)
	setString(&c.Pipeline.Default, o.DefaultPipeline)
	if len(o.PerformanceLevels) > 0 {
		c.Pipeline.PerformanceLevels = o.PerformanceLevels
	}
	setString(&c.Log.Level, o.LogLevel)
	setString(&c.Log.Format, o.LogFormat)
	setString(&c.Log.File, o.LogFile)
	if o.Plain != nil {
		c.UI.Plain = *o.Plain
	}
	setString(&c.Server.Addr, o.ServerAddr)
	setString(&c.Server.Token, o.ServerToken)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "backend.url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "stream.max_fps").
// String values are converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	return tag
}

// setFieldValue sets a reflect.Value from an arbitrary value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %w", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strVal)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all settable configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() != reflect.Struct {
			keys = append(keys, tomlName(f))
			continue
		}
		for j := 0; j < f.Type.NumField(); j++ {
			keys = append(keys, tomlName(f)+"."+tomlName(f.Type.Field(j)))
		}
	}
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Pipeline.PerformanceLevels = slices.Clone(c.Pipeline.PerformanceLevels)
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, secret := range []*string{&safe.Backend.APIKey, &safe.KBCache.RedisPassword, &safe.Server.Token} {
		if *secret != "" {
			*secret = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
