package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for chatrelay.
type Config struct {
	General GeneralConfig `json:"general"`
	Relay   RelayConfig   `json:"relay"`
	Widget  WidgetConfig  `json:"widget"`
	History HistoryConfig `json:"history"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// RelayConfig is the outbound webhook client surface.
type RelayConfig struct {
	EndpointURL      string `json:"endpointUrl"`
	MaxRetries       int    `json:"maxRetries"`       // retries after the first attempt
	BaseRetryDelayMs int    `json:"baseRetryDelayMs"` // wait before retry k is base*k
	TimeoutSeconds   int    `json:"timeoutSeconds"`
}

type WidgetConfig struct {
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Auth      WidgetAuth `json:"auth"`
	ThemePath string     `json:"themePath,omitempty"`
}

type WidgetAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // SHA-256 hex of the password
}

type HistoryConfig struct {
	Backend               string      `json:"backend"` // "memory" | "sqlite" | "redis"
	DBPath                string      `json:"dbPath"`
	Redis                 RedisConfig `json:"redis"`
	MaxMessagesPerSession int         `json:"maxMessagesPerSession"`
	RetentionDays         int         `json:"retentionDays"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Widget.ThemePath = ExpandPath(cfg.Widget.ThemePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Relay.EndpointURL == "" {
		errs = append(errs, "relay.endpointUrl is required")
	} else if u, err := url.Parse(cfg.Relay.EndpointURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "relay.endpointUrl must be an http(s) URL")
	}
	if cfg.Relay.MaxRetries < 0 {
		errs = append(errs, "relay.maxRetries must be >= 0")
	}
	if cfg.Relay.BaseRetryDelayMs < 0 {
		errs = append(errs, "relay.baseRetryDelayMs must be >= 0")
	}
	if cfg.Relay.TimeoutSeconds < 1 {
		errs = append(errs, "relay.timeoutSeconds must be >= 1")
	}

	if cfg.Widget.Port < 0 || cfg.Widget.Port > 65535 {
		errs = append(errs, "widget.port must be between 0 and 65535")
	}
	if cfg.Widget.Auth.Enabled && (cfg.Widget.Auth.Username == "" || cfg.Widget.Auth.PasswordHash == "") {
		errs = append(errs, "widget.auth requires username and passwordHash when enabled")
	}

	switch cfg.History.Backend {
	case "memory", "sqlite", "redis":
		// valid
	default:
		errs = append(errs, "history.backend must be one of: memory, sqlite, redis")
	}
	if cfg.History.Backend == "sqlite" && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required for the sqlite backend")
	}
	if cfg.History.Backend == "redis" && cfg.History.Redis.Addr == "" {
		errs = append(errs, "history.redis.addr is required for the redis backend")
	}
	if cfg.History.MaxMessagesPerSession < 1 {
		errs = append(errs, "history.maxMessagesPerSession must be >= 1")
	}
	if cfg.History.RetentionDays < 0 {
		errs = append(errs, "history.retentionDays must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
