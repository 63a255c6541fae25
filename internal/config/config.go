// Package config handles farmlink configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/farmlink/internal/llamafarm"
)

// Defaults applied to fields left empty in the config file.
const (
	DefaultServerURL   = "http://localhost:8000"
	DefaultNamespace   = "moltbot"
	DefaultProject     = "agent"
	DefaultModelName   = "qwen3-8b"
	DefaultGatewayPort = 3332
	DefaultGatewayMode = "local"
	DefaultTimeoutSec  = 300
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config flag is given.
func DefaultSearchPaths() []string {
	paths := []string{"farmlink.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "farmlink", "config.yaml"))
	}

	paths = append(paths, "/etc/farmlink/config.yaml")
	return paths
}

// ErrNoConfig is returned by FindConfig when no explicit path was given
// and none of the search paths exist. Callers may fall back to Default.
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise the first existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all farmlink configuration.
type Config struct {
	LlamaFarm LlamaFarmConfig `yaml:"llamafarm"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Usage     UsageConfig     `yaml:"usage"`

	// StateDir is the workspace root. MOLTBOT_STATE_DIR overrides it;
	// see paths.StateDir.
	StateDir string `yaml:"state_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text (default) or json
}

// LlamaFarmConfig identifies the model server and the project farmlink
// keeps reconciled on it.
type LlamaFarmConfig struct {
	ServerURL string `yaml:"server_url"`
	Namespace string `yaml:"namespace"`
	Project   string `yaml:"project"`
	ModelName string `yaml:"model_name"`

	// AutoBootstrap reconciles the project when the health service
	// starts. A nil pointer means "not set" and defaults to true.
	AutoBootstrap *bool `yaml:"auto_bootstrap"`

	// TimeoutSec bounds each HTTP request. 0 uses DefaultTimeoutSec.
	TimeoutSec int `yaml:"timeout_sec"`
}

// Bootstrap reports whether automatic reconciliation is enabled.
func (c LlamaFarmConfig) Bootstrap() bool {
	return c.AutoBootstrap == nil || *c.AutoBootstrap
}

// GatewayConfig is copied into the generated control-file so the host
// knows where to listen.
type GatewayConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

// MQTTConfig enables status publishing to an MQTT broker. Publishing is
// disabled when Broker is empty.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// UsageConfig controls the local token usage ledger.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"` // default: {state_dir}/usage.db
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references, applying defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied. Used when
// no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	lf := &c.LlamaFarm
	lf.ServerURL = strings.TrimSpace(lf.ServerURL)
	for strings.HasSuffix(lf.ServerURL, "/") {
		lf.ServerURL = strings.TrimSuffix(lf.ServerURL, "/")
	}
	if lf.ServerURL == "" {
		lf.ServerURL = DefaultServerURL
	}
	if lf.Namespace == "" {
		lf.Namespace = DefaultNamespace
	}
	if lf.Project == "" {
		lf.Project = DefaultProject
	}
	if lf.ModelName == "" {
		lf.ModelName = DefaultModelName
	}
	if lf.TimeoutSec == 0 {
		lf.TimeoutSec = DefaultTimeoutSec
	}

	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = DefaultGatewayMode
	}

	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "farmlink"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// Validate checks the configuration for values that would fail later
// in less obvious ways.
func (c *Config) Validate() error {
	u, err := url.Parse(c.LlamaFarm.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("llamafarm.server_url %q is not a valid URL", c.LlamaFarm.ServerURL)
	}
	if strings.TrimSpace(c.LlamaFarm.Namespace) == "" {
		return fmt.Errorf("llamafarm.namespace must not be blank")
	}
	if strings.TrimSpace(c.LlamaFarm.Project) == "" {
		return fmt.Errorf("llamafarm.project must not be blank")
	}
	id := llamafarm.Identity{Namespace: c.LlamaFarm.Namespace, Project: c.LlamaFarm.Project}
	if err := id.Validate(); err != nil {
		return fmt.Errorf("llamafarm: %w", err)
	}
	if strings.TrimSpace(c.LlamaFarm.ModelName) == "" {
		return fmt.Errorf("llamafarm.model_name must not be blank")
	}
	if c.LlamaFarm.TimeoutSec < 0 {
		return fmt.Errorf("llamafarm.timeout_sec must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	if c.MQTT.Configured() {
		if _, err := url.Parse(c.MQTT.Broker); err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
	}
	return nil
}
