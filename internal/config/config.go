package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/domguard/internal/defaults"
	"github.com/neboloop/domguard/internal/resilience"
)

// Config holds the DOMGuard configuration
type Config struct {
	Chrome     ChromeConfig     `yaml:"chrome"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	Correction CorrectionConfig `yaml:"correction"`
	Takeover   TakeoverConfig   `yaml:"takeover"`

	// Path the config was loaded from. Save writes back here.
	path string
}

// ChromeConfig says where the debugging endpoint lives
type ChromeConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	AllowRemote bool   `yaml:"allow_remote"`
	ExecPath    string `yaml:"exec_path,omitempty"` // empty = search install locations
}

// DefaultsConfig holds per-command defaults
type DefaultsConfig struct {
	TimeoutMs        int    `yaml:"timeout_ms"`
	ScreenshotFormat string `yaml:"screenshot_format"` // png, jpeg or webp
}

// CorrectionConfig tunes automatic error recovery
type CorrectionConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxRetries         int  `yaml:"max_retries"`
	BaseDelayMs        int  `yaml:"base_delay_ms"`
	ExponentialBackoff bool `yaml:"exponential_backoff"`
	MaxRecoveryTimeMs  int  `yaml:"max_recovery_time_ms"`
	EscalateCaptcha    bool `yaml:"escalate_captcha"`
}

// TakeoverConfig controls how pending takeover requests reach the user
type TakeoverConfig struct {
	DesktopNotify bool `yaml:"desktop_notify"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Chrome: ChromeConfig{
			Host: "127.0.0.1",
			Port: 9222,
		},
		Defaults: DefaultsConfig{
			TimeoutMs:        5000,
			ScreenshotFormat: "png",
		},
		Correction: CorrectionConfig{
			Enabled:            true,
			MaxRetries:         3,
			BaseDelayMs:        500,
			ExponentialBackoff: true,
			MaxRecoveryTimeMs:  30000,
			EscalateCaptcha:    true,
		},
	}
}

// Load loads config.yaml from the data directory. A missing file yields
// the defaults.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, defaults.ConfigFile)
	cfg, err := LoadFrom(path)
	if os.IsNotExist(err) {
		cfg = DefaultConfig()
		cfg.path = path
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.Chrome.ExecPath = expandHome(cfg.Chrome.ExecPath)
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv applies DOMGUARD_HOST and DOMGUARD_PORT.
func (c *Config) applyEnv() {
	if host := os.Getenv("DOMGUARD_HOST"); host != "" {
		c.Chrome.Host = host
	}
	if port := os.Getenv("DOMGUARD_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Chrome.Port = n
		}
	}
}

// Validate rejects values no command could work with.
func (c *Config) Validate() error {
	if c.Chrome.Port <= 0 || c.Chrome.Port > 65535 {
		return fmt.Errorf("chrome.port %d out of range", c.Chrome.Port)
	}
	if c.Defaults.TimeoutMs <= 0 {
		return fmt.Errorf("defaults.timeout_ms must be positive")
	}
	switch c.Defaults.ScreenshotFormat {
	case "png", "jpeg", "webp":
	default:
		return fmt.Errorf("defaults.screenshot_format %q: want png, jpeg or webp", c.Defaults.ScreenshotFormat)
	}
	if c.Correction.MaxRetries < 0 {
		return fmt.Errorf("correction.max_retries must not be negative")
	}
	return nil
}

// Save writes the config back to the file it was loaded from
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}
	return c.SaveTo(c.path)
}

// SaveTo writes the config to path with owner-only permissions.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Endpoint returns host:port of the debugging endpoint.
func (c *Config) Endpoint() string {
	return net.JoinHostPort(c.Chrome.Host, strconv.Itoa(c.Chrome.Port))
}

// Timeout returns the default command timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Defaults.TimeoutMs) * time.Millisecond
}

// Resilience converts the correction section for the recovery controller.
func (c *Config) Resilience() resilience.Config {
	return resilience.Config{
		Enabled:            c.Correction.Enabled,
		MaxRetries:         c.Correction.MaxRetries,
		BaseDelay:          time.Duration(c.Correction.BaseDelayMs) * time.Millisecond,
		ExponentialBackoff: c.Correction.ExponentialBackoff,
		MaxRecoveryTime:    time.Duration(c.Correction.MaxRecoveryTimeMs) * time.Millisecond,
		EscalateCaptcha:    c.Correction.EscalateCaptcha,
	}
}

// expandHome expands a leading ~ to the user's home directory
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
