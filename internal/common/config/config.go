// Package config provides configuration management for threadrelay.
// It supports loading configuration from a YAML file, environment variables,
// and defaults. The interactive wizard that writes the file is a separate
// concern; this package only reads and validates it.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/threadrelay/threadrelay/internal/common/logger"
)

// Platform types.
const (
	PlatformMattermost = "mattermost"
	PlatformSlack      = "slack"
)

// Worktree modes.
const (
	WorktreePrompt  = "prompt"
	WorktreeOff     = "off"
	WorktreeRequire = "require"
)

// Config holds all configuration sections for threadrelay.
type Config struct {
	Version      int                  `mapstructure:"version"`
	WorkingDir   string               `mapstructure:"workingDir"`
	Chrome       bool                 `mapstructure:"chrome"`
	WorktreeMode string               `mapstructure:"worktreeMode"`
	Platforms    []PlatformConfig     `mapstructure:"platforms"`
	Assistant    AssistantConfig      `mapstructure:"assistant"`
	Session      SessionConfig        `mapstructure:"session"`
	ThreadLogs   ThreadLogsConfig     `mapstructure:"threadLogs"`
	Debug        DebugConfig          `mapstructure:"debug"`
	Store        StoreConfig          `mapstructure:"store"`
	Logging      logger.LoggingConfig `mapstructure:"logging"`
}

// PlatformConfig describes one chat platform connection. Type-specific fields
// are validated per Type.
type PlatformConfig struct {
	ID          string `mapstructure:"id"`
	Type        string `mapstructure:"type"`
	DisplayName string `mapstructure:"displayName"`

	// Mattermost
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`

	// Slack
	BotToken string `mapstructure:"botToken"`
	AppToken string `mapstructure:"appToken"`

	ChannelID       string   `mapstructure:"channelId"`
	BotName         string   `mapstructure:"botName"`
	AllowedUsers    []string `mapstructure:"allowedUsers"`
	SkipPermissions bool     `mapstructure:"skipPermissions"`
}

// AssistantConfig holds the assistant CLI settings.
type AssistantConfig struct {
	// Command is the assistant CLI binary (default "claude").
	Command string `mapstructure:"command"`
	// ExtraArgs are appended to the generated argument list.
	ExtraArgs []string `mapstructure:"extraArgs"`
}

// SessionConfig holds session lifecycle tuning.
type SessionConfig struct {
	IdleTimeoutMinutes int `mapstructure:"idleTimeoutMinutes"`
	FlushDebounceMS    int `mapstructure:"flushDebounceMs"`
}

// ThreadLogsConfig holds the per-session JSONL log settings.
type ThreadLogsConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retentionDays"`
}

// DebugConfig holds the optional debug HTTP server settings.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StoreConfig holds the session-record database settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// IdleTimeout returns the idle timeout as a time.Duration.
func (s *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// FlushDebounce returns the flush debounce as a time.Duration.
func (s *SessionConfig) FlushDebounce() time.Duration {
	return time.Duration(s.FlushDebounceMS) * time.Millisecond
}

var slugRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("version", 2)
	v.SetDefault("workingDir", ".")
	v.SetDefault("chrome", false)
	v.SetDefault("worktreeMode", WorktreePrompt)

	v.SetDefault("assistant.command", "claude")

	v.SetDefault("session.idleTimeoutMinutes", 30)
	v.SetDefault("session.flushDebounceMs", 500)

	v.SetDefault("threadLogs.dir", "~/.threadrelay/logs")
	v.SetDefault("threadLogs.retentionDays", 30)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.addr", "127.0.0.1:8480")

	v.SetDefault("store.path", "~/.threadrelay/threadrelay.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadWithPath reads configuration from the given directory, falling back to
// the default search locations when configPath is empty. Environment
// variables use the prefix THREADRELAY_ with underscore-separated naming.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("THREADRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.threadrelay/")
	v.AddConfigPath("/etc/threadrelay/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set and well
// formed. Exported so tests can validate hand-built configs.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Version != 2 {
		errs = append(errs, fmt.Sprintf("version must be 2, got %d", cfg.Version))
	}

	switch cfg.WorktreeMode {
	case WorktreePrompt, WorktreeOff, WorktreeRequire:
	default:
		errs = append(errs, fmt.Sprintf("worktreeMode must be one of prompt, off, require; got %q", cfg.WorktreeMode))
	}

	if len(cfg.Platforms) == 0 {
		errs = append(errs, "at least one platform must be configured")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Platforms {
		prefix := fmt.Sprintf("platforms[%d]", i)
		if !slugRe.MatchString(p.ID) {
			errs = append(errs, fmt.Sprintf("%s.id must match [a-z0-9-]+, got %q", prefix, p.ID))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, p.ID))
		}
		seen[p.ID] = true

		switch p.Type {
		case PlatformMattermost:
			if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
				errs = append(errs, fmt.Sprintf("%s.url must be an http(s) URL", prefix))
			}
			if p.Token == "" {
				errs = append(errs, fmt.Sprintf("%s.token is required", prefix))
			}
			if p.ChannelID == "" {
				errs = append(errs, fmt.Sprintf("%s.channelId is required", prefix))
			}
		case PlatformSlack:
			if !strings.HasPrefix(p.BotToken, "xoxb-") {
				errs = append(errs, fmt.Sprintf("%s.botToken must start with xoxb-", prefix))
			}
			if !strings.HasPrefix(p.AppToken, "xapp-") {
				errs = append(errs, fmt.Sprintf("%s.appToken must start with xapp-", prefix))
			}
			if !strings.HasPrefix(p.ChannelID, "C") && !strings.HasPrefix(p.ChannelID, "G") {
				errs = append(errs, fmt.Sprintf("%s.channelId must start with C or G", prefix))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type must be mattermost or slack, got %q", prefix, p.Type))
		}

		if p.BotName == "" {
			errs = append(errs, fmt.Sprintf("%s.botName is required", prefix))
		}
	}

	if cfg.Session.IdleTimeoutMinutes <= 0 {
		errs = append(errs, "session.idleTimeoutMinutes must be positive")
	}
	if cfg.Session.FlushDebounceMS <= 0 {
		errs = append(errs, "session.flushDebounceMs must be positive")
	}
	if cfg.ThreadLogs.RetentionDays <= 0 {
		errs = append(errs, "threadLogs.retentionDays must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// Platform returns the platform config with the given id, or nil.
func (c *Config) Platform(id string) *PlatformConfig {
	for i := range c.Platforms {
		if c.Platforms[i].ID == id {
			return &c.Platforms[i]
		}
	}
	return nil
}
