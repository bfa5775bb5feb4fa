// Package config loads and writes the gateway configuration document.
// JSON is the primary format; YAML files are accepted by extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Enabled       bool                     `json:"enabled" yaml:"enabled"`
	Port          int                      `json:"port" yaml:"port"` // reserved for a future control plane
	DataDir       string                   `json:"data_dir" yaml:"data_dir"`
	Channels      map[string]ChannelConfig `json:"channels" yaml:"channels"`
	Pipeline      PipelineConfig           `json:"pipeline" yaml:"pipeline"`
	Notifications NotificationsConfig      `json:"notifications" yaml:"notifications"`
	Safety        SafetyConfig             `json:"safety" yaml:"safety"`
}

// ChannelConfig carries the per-channel enable flag plus adapter-specific
// keys; unused keys are simply absent for a given channel.
type ChannelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Telegram
	Token        string  `json:"token,omitempty" yaml:"token,omitempty"`
	AllowedUsers []int64 `json:"allowed_users,omitempty" yaml:"allowed_users,omitempty"`

	// Slack
	BotToken string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	AppToken string `json:"app_token,omitempty" yaml:"app_token,omitempty"`

	// Discord
	GuildID string `json:"guild_id,omitempty" yaml:"guild_id,omitempty"`

	// Kakao bridge
	BridgeURL string `json:"bridge_url,omitempty" yaml:"bridge_url,omitempty"`

	// DraftDir overrides the per-adapter draft directory.
	DraftDir string `json:"draft_dir,omitempty" yaml:"draft_dir,omitempty"`
}

// PipelineConfig overrides the classification defaults key-by-key; empty
// lists keep the built-in sets.
type PipelineConfig struct {
	UrgentKeywords   []string `json:"urgent_keywords,omitempty" yaml:"urgent_keywords,omitempty"`
	ActionKeywords   []string `json:"action_keywords,omitempty" yaml:"action_keywords,omitempty"`
	DeadlinePatterns []string `json:"deadline_patterns,omitempty" yaml:"deadline_patterns,omitempty"`
}

type NotificationsConfig struct {
	ToastEnabled bool `json:"toast_enabled" yaml:"toast_enabled"`
}

// SafetyConfig guards outbound delivery. The defaults are deliberately
// restrictive: nothing auto-sends until an operator opts in.
type SafetyConfig struct {
	AutoSendDisabled    bool `json:"auto_send_disabled" yaml:"auto_send_disabled"`
	RequireConfirmation bool `json:"require_confirmation" yaml:"require_confirmation"`
	RateLimitPerMinute  int  `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// DefaultConfigDir returns ~/.secretary.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".secretary"
	}
	return filepath.Join(home, ".secretary")
}

// DefaultConfigPath returns ~/.secretary/gateway.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "gateway.json")
}

// Defaults returns the built-in configuration: every channel disabled and
// auto-send off, so a fresh install can never deliver to a real recipient.
func Defaults() *Config {
	return &Config{
		Enabled: true,
		Port:    8800,
		DataDir: filepath.Join(DefaultConfigDir(), "data"),
		Channels: map[string]ChannelConfig{
			"telegram": {Enabled: false},
			"whatsapp": {Enabled: false},
			"discord":  {Enabled: false},
			"slack":    {Enabled: false},
			"kakao":    {Enabled: false},
		},
		Notifications: NotificationsConfig{
			ToastEnabled: true,
		},
		Safety: SafetyConfig{
			AutoSendDisabled:    true,
			RequireConfirmation: true,
			RateLimitPerMinute:  10,
		},
	}
}

// Load reads the file at path, or the default path when empty. A missing
// file is not an error: the built-in defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Save writes cfg as indented JSON.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
