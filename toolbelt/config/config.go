package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/toolbelt-ai/agent-toolbelt/toolbelt"

	"github.com/spf13/viper"
)

// Config stores all configuration of the toolbelt.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Search     SearchConfig     `mapstructure:"search"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Log        LogConfig        `mapstructure:"log"`
}

// SandboxConfig stores the filesystem access policy.
type SandboxConfig struct {
	AllowedRoots      []string `mapstructure:"allowed_roots"`      // Base directories file operations may touch
	DeniedPatterns    []string `mapstructure:"denied_patterns"`    // Gitignore-style patterns, root-relative
	DeniedExtensions  []string `mapstructure:"denied_extensions"`  // Always rejected
	AllowedExtensions []string `mapstructure:"allowed_extensions"` // Exhaustive when non-empty
	MaxFileSize       int64    `mapstructure:"max_file_size"`      // Bytes
	MaxDepth          int      `mapstructure:"max_depth"`          // Recursive traversal bound
	BackupDir         string   `mapstructure:"backup_dir"`         // Pre-overwrite/pre-delete copies
	IOTimeoutSeconds  int      `mapstructure:"io_timeout_seconds"`
}

// SearchConfig stores the web search and fetch policy.
type SearchConfig struct {
	Engine                 string   `mapstructure:"engine"`  // "duckduckgo" or "brave"
	APIKey                 string   `mapstructure:"api_key"` // Required for brave
	MaxResults             int      `mapstructure:"max_results"`
	MaxContentBytes        int64    `mapstructure:"max_content_bytes"`
	TimeoutSeconds         int      `mapstructure:"timeout_seconds"`
	AllowedDomains         []string `mapstructure:"allowed_domains"` // Exhaustive when non-empty
	DeniedDomains          []string `mapstructure:"denied_domains"`
	UserAgent              string   `mapstructure:"user_agent"`
	MaxRedirects           int      `mapstructure:"max_redirects"`
	CacheEnabled           bool     `mapstructure:"cache_enabled"`
	CacheCapacity          int      `mapstructure:"cache_capacity"`
	CacheTTLSeconds        int      `mapstructure:"cache_ttl_seconds"`
	RateLimitEnabled       bool     `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity      int      `mapstructure:"rate_limit_capacity"`
	RateLimitRefillSeconds int      `mapstructure:"rate_limit_refill_seconds"`
}

// DispatcherConfig stores dispatch-level policies.
type DispatcherConfig struct {
	Concurrency        int      `mapstructure:"concurrency"` // Worker pool bound
	RetryEnabled       bool     `mapstructure:"retry_enabled"`
	RetryBackoffMs     int      `mapstructure:"retry_backoff_ms"`
	CallTimeoutSeconds int      `mapstructure:"call_timeout_seconds"`
	AllowedTools       []string `mapstructure:"allowed_tools"` // Empty means every registered tool
}

// AuditConfig stores the dispatch journal settings.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DBPath     string `mapstructure:"db_path"`
	RetainDays int    `mapstructure:"retain_days"`
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables. The
// result is treated as immutable: components copy what they need at
// construction and never re-read configuration afterwards.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("$HOME", "."+internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Sandbox defaults
	viper.SetDefault("sandbox.allowed_roots", []string{internal.DefaultWorkspaceDir, internal.DefaultTempDir})
	viper.SetDefault("sandbox.denied_patterns", []string{})
	viper.SetDefault("sandbox.denied_extensions", []string{".exe", ".bat", ".cmd", ".com", ".scr", ".vbs", ".dll"})
	viper.SetDefault("sandbox.allowed_extensions", []string{})
	viper.SetDefault("sandbox.max_file_size", 50*1024*1024) // 50 MiB
	viper.SetDefault("sandbox.max_depth", 10)
	viper.SetDefault("sandbox.backup_dir", internal.DefaultBackupDir)
	viper.SetDefault("sandbox.io_timeout_seconds", 30)

	// Search defaults
	viper.SetDefault("search.engine", "duckduckgo")
	viper.SetDefault("search.api_key", "")
	viper.SetDefault("search.max_results", 10)
	viper.SetDefault("search.max_content_bytes", 50000)
	viper.SetDefault("search.timeout_seconds", 30)
	viper.SetDefault("search.allowed_domains", []string{})
	viper.SetDefault("search.denied_domains", []string{})
	viper.SetDefault("search.user_agent", "agent-toolbelt/1.0 (+https://github.com/toolbelt-ai/agent-toolbelt)")
	viper.SetDefault("search.max_redirects", 10)
	viper.SetDefault("search.cache_enabled", true)
	viper.SetDefault("search.cache_capacity", 256)
	viper.SetDefault("search.cache_ttl_seconds", 3600) // 1 hour
	viper.SetDefault("search.rate_limit_enabled", true)
	viper.SetDefault("search.rate_limit_capacity", 8)
	viper.SetDefault("search.rate_limit_refill_seconds", 1)

	// Dispatcher defaults
	viper.SetDefault("dispatcher.concurrency", 4)
	viper.SetDefault("dispatcher.retry_enabled", true)
	viper.SetDefault("dispatcher.retry_backoff_ms", 250)
	viper.SetDefault("dispatcher.call_timeout_seconds", 60)
	viper.SetDefault("dispatcher.allowed_tools", []string{}) // Empty means allow all by default

	// Audit defaults (journal off unless asked for)
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.db_path", internal.DefaultDatabasePath)
	viper.SetDefault("audit.retain_days", 30)

	// Log defaults
	viper.SetDefault("log.level", "info")

	viper.SetEnvPrefix(strings.ToUpper(internal.DefaultAppName))
	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. search.api_key
	// becomes TOOLBELT_SEARCH_API_KEY.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used. Not an error the
			// application should halt on.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := AppConfig.Validate(); err != nil {
		return nil, err
	}

	return &AppConfig, nil
}

// Validate rejects configurations the toolbelt cannot run with. A bad
// policy aborts startup instead of surfacing per-call.
func (c *Config) Validate() error {
	if len(c.Sandbox.AllowedRoots) == 0 {
		return fmt.Errorf("config: sandbox.allowed_roots must not be empty")
	}
	if c.Sandbox.MaxFileSize <= 0 {
		return fmt.Errorf("config: sandbox.max_file_size must be positive")
	}
	if c.Sandbox.MaxDepth <= 0 {
		return fmt.Errorf("config: sandbox.max_depth must be positive")
	}
	if c.Sandbox.BackupDir == "" {
		return fmt.Errorf("config: sandbox.backup_dir must not be empty")
	}
	switch c.Search.Engine {
	case "duckduckgo":
	case "brave":
		if c.Search.APIKey == "" {
			return fmt.Errorf("config: search.engine %q requires search.api_key", c.Search.Engine)
		}
	default:
		return fmt.Errorf("config: unknown search.engine %q", c.Search.Engine)
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("config: search.max_results must be positive")
	}
	if c.Search.MaxContentBytes <= 0 {
		return fmt.Errorf("config: search.max_content_bytes must be positive")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: search.timeout_seconds must be positive")
	}
	return nil
}
