// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/companion/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete companion configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend endpoints and default model
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Voice playback of finished answers
	Voice VoiceConfig `toml:"voice" json:"voice"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`

	// Log output
	Log LogConfig `toml:"log" json:"log"`

	// Prometheus endpoint
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`

	// Keep-warm health probing
	Warmup WarmupConfig `toml:"warmup" json:"warmup"`

	// Local reference backend
	DevServer DevServerConfig `toml:"devserver" json:"devserver"`
}

// BackendConfig locates the chat backend.
type BackendConfig struct {
	// BaseURL is the scheme and host of the backend, e.g. "http://127.0.0.1:8787"
	BaseURL string `toml:"base_url" json:"base_url"`
	// ChatPath is the streaming chat endpoint path
	ChatPath string `toml:"chat_path" json:"chat_path"`
	// APIPath is the root of the thread, health and voice endpoints
	APIPath string `toml:"api_path" json:"api_path"`
	// Model is sent with each turn; "" lets the backend choose
	Model string `toml:"model" json:"model"`
}

// VoiceConfig contains voice playback configuration.
type VoiceConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// BaseURL overrides the voice endpoint root; "" means {api}/voice
	BaseURL string `toml:"base_url" json:"base_url"`
	// VoiceID is an explicit user choice that overrides persona resolution
	VoiceID string `toml:"voice_id" json:"voice_id"`
	// AutoSpeak reads every completed answer aloud
	AutoSpeak bool `toml:"auto_speak" json:"auto_speak"`
	// PlayerCommand plays a clip file; "{file}" is replaced by its path
	PlayerCommand string `toml:"player_command" json:"player_command"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// Plain forces the line-mode REPL even on a terminal
	Plain bool `toml:"plain" json:"plain"`
	// RenderMarkdown renders finished assistant messages as markdown
	RenderMarkdown bool `toml:"render_markdown" json:"render_markdown"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `toml:"level" json:"level"`
	// Format is "text" or "json"
	Format string `toml:"format" json:"format"`
	// File is the log path; "" logs to <config dir>/companion.log in the TUI
	File string `toml:"file" json:"file"`
}

// MetricsConfig contains the Prometheus endpoint configuration.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. "127.0.0.1:9464"
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
}

// WarmupConfig contains keep-warm probe configuration.
type WarmupConfig struct {
	Enabled      bool `toml:"enabled" json:"enabled"`
	IntervalSecs int  `toml:"interval_secs" json:"interval_secs"`
}

// DevServerConfig contains the local reference backend configuration.
type DevServerConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr"`
	// DBPath is the sqlite file; "" uses <config dir>/devserver.db
	DBPath string `toml:"db_path" json:"db_path"`
	// ColdStartFailures is how many chat requests fail before the server "wakes"
	ColdStartFailures int `toml:"cold_start_failures" json:"cold_start_failures"`
	// WordDelayMs spaces streamed words
	WordDelayMs int `toml:"word_delay_ms" json:"word_delay_ms"`
	// Visualize adds a chart event to answers that mention "chart"
	Visualize bool `toml:"visualize" json:"visualize"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL:  "http://127.0.0.1:8787",
			ChatPath: "/api/chat",
			APIPath:  "/api",
		},

		Voice: VoiceConfig{
			Enabled:   false,
			AutoSpeak: false,
		},

		UI: UIConfig{
			Theme:          "dark",
			RenderMarkdown: true,
		},

		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},

		Warmup: WarmupConfig{
			Enabled:      true,
			IntervalSecs: 240,
		},

		DevServer: DevServerConfig{
			ListenAddr:  "127.0.0.1:8787",
			WordDelayMs: 40,
			Visualize:   true,
		},
	}
}

// =============================================================================
// DERIVED ENDPOINTS
// =============================================================================

// ChatURL is the streaming chat endpoint.
func (c *Config) ChatURL() string {
	return joinURL(c.Backend.BaseURL, c.Backend.ChatPath)
}

// APIURL is the root of the thread endpoints.
func (c *Config) APIURL() string {
	return joinURL(c.Backend.BaseURL, c.Backend.APIPath)
}

// HealthURL is the liveness probe endpoint.
func (c *Config) HealthURL() string {
	return c.APIURL() + "/health"
}

// VoiceURL is the root of the voice endpoints.
func (c *Config) VoiceURL() string {
	if c.Voice.BaseURL != "" {
		return strings.TrimRight(c.Voice.BaseURL, "/")
	}
	return c.APIURL() + "/voice"
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the companion configuration directory path.
// COMPANION_HOME overrides the default ~/.companion.
func ConfigDir() (string, error) {
	if dir := os.Getenv("COMPANION_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".companion"), nil
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

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
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
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Values missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.ChatPath == "" {
		cfg.Backend.ChatPath = defaults.Backend.ChatPath
	}
	if cfg.Backend.APIPath == "" {
		cfg.Backend.APIPath = defaults.Backend.APIPath
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	if cfg.Warmup.IntervalSecs == 0 {
		cfg.Warmup.IntervalSecs = defaults.Warmup.IntervalSecs
	}

	if cfg.DevServer.ListenAddr == "" {
		cfg.DevServer.ListenAddr = defaults.DevServer.ListenAddr
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
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# companion configuration file")
	fmt.Fprintln(file, "# Generated by companion - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// MinWarmupIntervalSecs is the shortest accepted keep-warm interval.
const MinWarmupIntervalSecs = 15

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateHTTPURL(c.Backend.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "backend.base_url", Message: err.Error()})
	}
	if !strings.HasPrefix(c.Backend.ChatPath, "/") {
		errs = append(errs, ValidationError{Field: "backend.chat_path", Message: "must start with /"})
	}
	if !strings.HasPrefix(c.Backend.APIPath, "/") {
		errs = append(errs, ValidationError{Field: "backend.api_path", Message: "must start with /"})
	}

	if c.Voice.BaseURL != "" {
		if err := validateHTTPURL(c.Voice.BaseURL); err != nil {
			errs = append(errs, ValidationError{Field: "voice.base_url", Message: err.Error()})
		}
	}

	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		errs = append(errs, ValidationError{Field: "ui.theme", Message: "must be dark, light, or auto"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{Field: "log.level", Message: "must be debug, info, warn, or error"})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{Field: "log.format", Message: "must be text or json"})
	}

	if c.Metrics.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			errs = append(errs, ValidationError{Field: "metrics.listen_addr", Message: "must be host:port"})
		}
	}

	if c.Warmup.Enabled && c.Warmup.IntervalSecs < MinWarmupIntervalSecs {
		errs = append(errs, ValidationError{
			Field:   "warmup.interval_secs",
			Message: fmt.Sprintf("must be at least %d", MinWarmupIntervalSecs),
		})
	}

	if _, _, err := net.SplitHostPort(c.DevServer.ListenAddr); err != nil {
		errs = append(errs, ValidationError{Field: "devserver.listen_addr", Message: "must be host:port"})
	}
	if c.DevServer.ColdStartFailures < 0 {
		errs = append(errs, ValidationError{Field: "devserver.cold_start_failures", Message: "must not be negative"})
	}
	if c.DevServer.WordDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "devserver.word_delay_ms", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - COMPANION_BASE_URL: overrides backend.base_url
//   - COMPANION_MODEL: overrides backend.model
//   - COMPANION_VOICE_ID: overrides voice.voice_id
//   - COMPANION_AUTO_SPEAK: overrides voice.auto_speak (and enables voice)
//   - COMPANION_PLAIN: overrides ui.plain
//   - COMPANION_LOG_LEVEL: overrides log.level
//   - COMPANION_LOG_FORMAT: overrides log.format
//   - COMPANION_METRICS_ADDR: overrides metrics.listen_addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("COMPANION_BASE_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("COMPANION_MODEL"); v != "" {
		c.Backend.Model = v
	}
	if v := os.Getenv("COMPANION_VOICE_ID"); v != "" {
		c.Voice.VoiceID = v
	}
	if v := os.Getenv("COMPANION_AUTO_SPEAK"); v != "" {
		c.Voice.AutoSpeak = parseBool(v)
		if c.Voice.AutoSpeak {
			c.Voice.Enabled = true
		}
	}
	if v := os.Getenv("COMPANION_PLAIN"); v != "" {
		c.UI.Plain = parseBool(v)
	}
	if v := os.Getenv("COMPANION_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("COMPANION_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("COMPANION_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "voice.voice_id").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "voice.voice_id").
func (c *Config) Set(key string, value interface{}) error {
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
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
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

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
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

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"backend.base_url",
		"backend.chat_path",
		"backend.api_path",
		"backend.model",
		"voice.enabled",
		"voice.base_url",
		"voice.voice_id",
		"voice.auto_speak",
		"voice.player_command",
		"ui.theme",
		"ui.plain",
		"ui.render_markdown",
		"log.level",
		"log.format",
		"log.file",
		"metrics.listen_addr",
		"warmup.enabled",
		"warmup.interval_secs",
		"devserver.listen_addr",
		"devserver.db_path",
		"devserver.cold_start_failures",
		"devserver.word_delay_ms",
		"devserver.visualize",
	}
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
