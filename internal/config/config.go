package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// AppName prefixes the device type registered with the bridge.
	AppName = "lucia"

	// EnvConfigPath overrides the default config location.
	EnvConfigPath = "LUCIA_CONFIG"

	defaultFileName = ".lucia.yaml"
	defaultDBName   = ".lucia.sqlite"
)

// ErrConfigMissing is returned when a required value has not been configured yet.
var ErrConfigMissing = errors.New("missing configuration")

// Config represents the application configuration
type Config struct {
	AppName   string          `yaml:"app_name"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Apply     ApplyConfig     `yaml:"apply"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// BridgeConfig contains Hue bridge connection settings
type BridgeConfig struct {
	Address   string   `yaml:"address,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	ClientKey string   `yaml:"client_key,omitempty"`
	Timeout   Duration `yaml:"timeout"` // HTTP timeout for bridge requests
}

// PairingConfig contains link button polling settings
type PairingConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	MaxDuration  Duration `yaml:"max_duration"`
}

// DiscoveryConfig contains mDNS discovery settings
type DiscoveryConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// ApplyConfig contains batch state change settings
type ApplyConfig struct {
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// DatabaseConfig contains command history settings
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultPath returns $LUCIA_CONFIG or ~/.lucia.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(homeDir(), defaultFileName)
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. A missing file is not an
// error: the defaults are returned so that `configure` can create it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.AppName == "" {
		cfg.AppName = defaultAppName()
	}

	// Bridge defaults
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = Duration(10 * time.Second)
	}

	// Pairing defaults: poll every 3s for up to 5 minutes
	if cfg.Pairing.PollInterval == 0 {
		cfg.Pairing.PollInterval = Duration(3 * time.Second)
	}
	if cfg.Pairing.MaxDuration == 0 {
		cfg.Pairing.MaxDuration = Duration(5 * time.Minute)
	}

	if cfg.Discovery.Timeout == 0 {
		cfg.Discovery.Timeout = Duration(5 * time.Second)
	}

	// The bridge handles roughly 10 light commands per second
	if cfg.Apply.RateLimitRPS == 0 {
		cfg.Apply.RateLimitRPS = 10.0
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(homeDir(), defaultDBName)
	}
	if cfg.Database.RetentionDays == 0 {
		cfg.Database.RetentionDays = 90
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Save writes the configuration to path. The file holds the bridge
// credential, so it is written owner-readable only and replaced atomically.
func (cfg *Config) Save(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// RequireBridge returns the configured bridge address.
func (cfg *Config) RequireBridge() (string, error) {
	if cfg.Bridge.Address == "" {
		return "", fmt.Errorf("%w: bridge address (run `lucia configure -address <ip>`)", ErrConfigMissing)
	}
	return cfg.Bridge.Address, nil
}

// RequireUsername returns the username issued by the bridge.
func (cfg *Config) RequireUsername() (string, error) {
	if cfg.Bridge.Username == "" {
		return "", fmt.Errorf("%w: bridge username (run `lucia configure` to pair)", ErrConfigMissing)
	}
	return cfg.Bridge.Username, nil
}

func defaultAppName() string {
	name := os.Getenv("USER")
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}
	if name == "" {
		name = "unknown"
	}
	return AppName + "#" + name
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
