// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete termchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Server configuration (proxy mode)
	Server ServerConfig `toml:"server" json:"server"`

	// Provider configuration
	Providers ProvidersConfig `toml:"providers" json:"providers"`

	// Chat behavior
	Chat ChatConfig `toml:"chat" json:"chat"`

	// UI configuration (client mode)
	UI UIConfig `toml:"ui" json:"ui"`
}

// ServerConfig contains proxy server configuration.
type ServerConfig struct {
	// Host is the bind address for the HTTP server.
	Host string `toml:"host" json:"host"`
	// Port is the HTTP listen port.
	Port int `toml:"port" json:"port"`
	// CORSOrigins is the allowed origin list; empty keeps the defaults.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
	// RateLimitRPS is requests per second allowed per client IP.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst size.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
	// DataDir is where conversations and the metrics database live.
	DataDir string `toml:"data_dir" json:"data_dir"`
	// RetentionDays is how long conversations are kept before cleanup.
	RetentionDays int `toml:"retention_days" json:"retention_days"`
	// Environment is the label reported by the health endpoint.
	Environment string `toml:"environment" json:"environment"`
}

// ProvidersConfig groups the upstream provider settings.
type ProvidersConfig struct {
	Direct  DirectConfig  `toml:"direct" json:"direct"`
	Scraped ScrapedConfig `toml:"scraped" json:"scraped"`
}

// DirectConfig configures the OpenAI-compatible upstream.
type DirectConfig struct {
	// BaseURL is the upstream endpoint root.
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey is sent as a bearer token when non-empty.
	APIKey string `toml:"api_key" json:"api_key"`
	// DefaultModel overrides the catalog default when non-empty.
	DefaultModel string `toml:"default_model" json:"default_model"`
	// Temperature is the sampling temperature passed upstream.
	Temperature float64 `toml:"temperature" json:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// Headers are extra headers sent with every upstream request.
	Headers map[string]string `toml:"headers" json:"headers"`
}

// ScrapedConfig configures the scraped multi-step upstream.
type ScrapedConfig struct {
	// BaseURL is the site root.
	BaseURL string `toml:"base_url" json:"base_url"`
	// ChatPath is the page path holding the session tokens.
	ChatPath string `toml:"chat_path" json:"chat_path"`
	// StreamPath is the transcript endpoint path.
	StreamPath string `toml:"stream_path" json:"stream_path"`
	// TokenServiceURL is the anti-bot token endpoint; empty skips that step.
	TokenServiceURL string `toml:"token_service_url" json:"token_service_url"`
	// SiteKey is sent to the token service.
	SiteKey string `toml:"site_key" json:"site_key"`
	// Temperature is the sampling temperature sent with the form.
	Temperature float64 `toml:"temperature" json:"temperature"`
}

// ChatConfig contains chat behavior settings shared by both modes.
type ChatConfig struct {
	// AssistantName appears in the system prompt.
	AssistantName string `toml:"assistant_name" json:"assistant_name"`
	// HistoryWindow bounds how many prior turns are sent upstream.
	HistoryWindow int `toml:"history_window" json:"history_window"`
	// HistoryLimit is the default page size for history reads.
	HistoryLimit int `toml:"history_limit" json:"history_limit"`
}

// UIConfig contains terminal client configuration.
type UIConfig struct {
	// ServerURL is the proxy the client talks to.
	ServerURL string `toml:"server_url" json:"server_url"`
	// Theme selects the color theme.
	Theme string `toml:"theme" json:"theme"`
	// TypingCharsPerTick is how many characters each reveal tick shows.
	TypingCharsPerTick int `toml:"typing_chars_per_tick" json:"typing_chars_per_tick"`
	// TypingTickMs is the reveal tick interval in milliseconds.
	TypingTickMs int `toml:"typing_tick_ms" json:"typing_tick_ms"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			RateLimitRPS:   10,
			RateLimitBurst: 30,
			DataDir:        filepath.Join(ConfigDir(), "conversations"),
			RetentionDays:  30,
			Environment:    "development",
		},
		Providers: ProvidersConfig{
			Direct: DirectConfig{
				BaseURL:     "http://127.0.0.1:8080",
				Temperature: 0.7,
				MaxTokens:   4096,
			},
			Scraped: ScrapedConfig{
				BaseURL:     "https://minitoolai.com",
				ChatPath:    "/chatGPT/",
				StreamPath:  "/chatGPT/chatgpt_stream.php",
				Temperature: 0.7,
			},
		},
		Chat: ChatConfig{
			AssistantName: "TERMCHAT",
			HistoryWindow: 20,
			HistoryLimit:  50,
		},
		UI: UIConfig{
			ServerURL:          "http://127.0.0.1:3000",
			Theme:              "terminal",
			TypingCharsPerTick: 10,
			TypingTickMs:       12,
		},
	}
}

// ConfigDir returns the termchat configuration directory (~/.termchat).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termchat"
	}
	return filepath.Join(home, ".termchat")
}

// ConfigPath returns the primary (TOML) config file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration, trying TOML first, then JSON, then falling
// back to defaults. Missing fields are filled with defaults and
// environment overrides are applied last.
func Load() (*Config, error) {
	dir := ConfigDir()

	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		cfg, err := LoadFile(tomlPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}

	jsonPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		cfg, err := LoadFile(jsonPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadFile reads a specific config file, TOML or JSON by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.fillDefaults()
	cfg.ApplyEnvOverrides()
	return &cfg, nil
}

// fillDefaults fills in zero-valued fields with defaults so partial
// config files stay valid.
func (c *Config) fillDefaults() {
	def := Default()

	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = def.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = def.Server.DataDir
	}
	if c.Server.RetentionDays == 0 {
		c.Server.RetentionDays = def.Server.RetentionDays
	}
	if c.Server.Environment == "" {
		c.Server.Environment = def.Server.Environment
	}
	if c.Providers.Direct.BaseURL == "" {
		c.Providers.Direct.BaseURL = def.Providers.Direct.BaseURL
	}
	if c.Providers.Direct.Temperature == 0 {
		c.Providers.Direct.Temperature = def.Providers.Direct.Temperature
	}
	if c.Providers.Direct.MaxTokens == 0 {
		c.Providers.Direct.MaxTokens = def.Providers.Direct.MaxTokens
	}
	if c.Providers.Scraped.BaseURL == "" {
		c.Providers.Scraped.BaseURL = def.Providers.Scraped.BaseURL
	}
	if c.Providers.Scraped.ChatPath == "" {
		c.Providers.Scraped.ChatPath = def.Providers.Scraped.ChatPath
	}
	if c.Providers.Scraped.StreamPath == "" {
		c.Providers.Scraped.StreamPath = def.Providers.Scraped.StreamPath
	}
	if c.Providers.Scraped.Temperature == 0 {
		c.Providers.Scraped.Temperature = def.Providers.Scraped.Temperature
	}
	if c.Chat.AssistantName == "" {
		c.Chat.AssistantName = def.Chat.AssistantName
	}
	if c.Chat.HistoryWindow == 0 {
		c.Chat.HistoryWindow = def.Chat.HistoryWindow
	}
	if c.Chat.HistoryLimit == 0 {
		c.Chat.HistoryLimit = def.Chat.HistoryLimit
	}
	if c.UI.ServerURL == "" {
		c.UI.ServerURL = def.UI.ServerURL
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
	if c.UI.TypingCharsPerTick == 0 {
		c.UI.TypingCharsPerTick = def.UI.TypingCharsPerTick
	}
	if c.UI.TypingTickMs == 0 {
		c.UI.TypingTickMs = def.UI.TypingTickMs
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies TERMCHAT_* environment variables over the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TERMCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TERMCHAT_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("TERMCHAT_DIRECT_URL"); v != "" {
		c.Providers.Direct.BaseURL = v
	}
	if v := os.Getenv("TERMCHAT_API_KEY"); v != "" {
		c.Providers.Direct.APIKey = v
	}
	if v := os.Getenv("TERMCHAT_MODEL"); v != "" {
		c.Providers.Direct.DefaultModel = v
	}
	if v := os.Getenv("TERMCHAT_SERVER_URL"); v != "" {
		c.UI.ServerURL = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for invalid values and returns all
// problems found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{"server.port", "must be between 1 and 65535"})
	}
	if c.Server.RateLimitRPS <= 0 {
		errs = append(errs, &ValidationError{"server.rate_limit_rps", "must be positive"})
	}
	if c.Server.RetentionDays < 1 {
		errs = append(errs, &ValidationError{"server.retention_days", "must be at least 1"})
	}
	if _, err := url.Parse(c.Providers.Direct.BaseURL); err != nil || c.Providers.Direct.BaseURL == "" {
		errs = append(errs, &ValidationError{"providers.direct.base_url", "must be a valid URL"})
	}
	if t := c.Providers.Direct.Temperature; t < 0 || t > 2 {
		errs = append(errs, &ValidationError{"providers.direct.temperature", "must be between 0.0 and 2.0"})
	}
	if c.Chat.HistoryWindow < 1 {
		errs = append(errs, &ValidationError{"chat.history_window", "must be at least 1"})
	}
	if c.UI.TypingCharsPerTick < 1 {
		errs = append(errs, &ValidationError{"ui.typing_chars_per_tick", "must be at least 1"})
	}
	if c.UI.TypingTickMs < 1 {
		errs = append(errs, &ValidationError{"ui.typing_tick_ms", "must be at least 1"})
	}

	return errs
}

// =============================================================================
// SAVING
// =============================================================================

// SaveTOML writes the configuration as TOML with restrictive
// permissions. The API key may be present, hence 0600.
func (c *Config) SaveTOML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# termchat configuration\n")
	sb.WriteString("# See https://github.com/jeranaias/termchat for documentation\n\n")

	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// SaveJSON writes the configuration as JSON.
func (c *Config) SaveJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return util.AtomicWriteFile(path, append(data, '\n'), 0600)
}

// String renders the config for display with secrets redacted.
func (c *Config) String() string {
	clone := *c
	if clone.Providers.Direct.APIKey != "" {
		clone.Providers.Direct.APIKey = "***"
	}
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{version: %s}", c.Version)
	}
	return string(data)
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// Global returns the process-wide configuration, loading it on first
// use.
func Global() *Config {
	globalMu.RLock()
	if globalConfig != nil {
		defer globalMu.RUnlock()
		return globalConfig
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	}
	return globalConfig
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = cfg
}
