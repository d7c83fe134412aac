// Package config loads vigil's runtime configuration through viper.
// Values come from defaults, an optional config.yaml and VIGIL_* environment
// variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dusk-indust/vigil/internal/errors"
	"github.com/dusk-indust/vigil/internal/logging"
	"github.com/spf13/viper"
)

// Config is the complete vigil configuration.
type Config struct {
	Invoker     InvokerConfig     `mapstructure:"invoker"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Departments DepartmentsConfig `mapstructure:"departments"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Store       StoreConfig       `mapstructure:"store"`
	Snapshots   SnapshotsConfig   `mapstructure:"snapshots"`
	CRM         CRMConfig         `mapstructure:"crm"`
	Actuator    ActuatorConfig    `mapstructure:"actuator"`
	MCP         MCPConfig         `mapstructure:"mcp"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// InvokerConfig controls retries around each reasoning-provider call.
type InvokerConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// PipelineConfig controls stage execution.
type PipelineConfig struct {
	// StageTimeout bounds the fan-in barrier of a parallel stage.
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`
	ProgressBuffer int           `mapstructure:"progress_buffer"`
}

// DepartmentsConfig locates department descriptors. An empty Dir means
// only the embedded defaults are used.
type DepartmentsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProviderConfig selects how perspective agents are reached.
type ProviderConfig struct {
	// Mode is "local" (in-process heuristics) or "a2a" (remote agents).
	Mode string `mapstructure:"mode"`
	// Endpoints maps an agent role to its A2A endpoint URL.
	Endpoints       map[string]string `mapstructure:"endpoints"`
	DefaultEndpoint string            `mapstructure:"default_endpoint"`
	HTTPTimeout     time.Duration     `mapstructure:"http_timeout"`
}

// StoreConfig selects the run/outcome store backend.
type StoreConfig struct {
	// Backend is "memory" or "kuzu".
	Backend string `mapstructure:"backend"`
	// Path is the Kuzu database directory; empty means in-memory Kuzu.
	Path string `mapstructure:"path"`
}

// SnapshotsConfig locates conversation snapshot files.
type SnapshotsConfig struct {
	Dir string `mapstructure:"dir"`
}

// CRMConfig locates the relationship-store fixture.
type CRMConfig struct {
	Fixture string `mapstructure:"fixture"`
}

// ActuatorConfig selects where tool requests are handed off.
type ActuatorConfig struct {
	// Kind is "log" or "webhook".
	Kind       string        `mapstructure:"kind"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// MCPConfig controls the MCP server.
type MCPConfig struct {
	Addr string `mapstructure:"addr"`
	// Transport is "http" or "stdio".
	Transport string `mapstructure:"transport"`
}

// AgentsConfig controls the local A2A agent host.
type AgentsConfig struct {
	BasePort int `mapstructure:"base_port"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// TracingConfig toggles OpenTelemetry span emission.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Invoker: InvokerConfig{
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  8 * time.Second,
			CallTimeout: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			StageTimeout:   120 * time.Second,
			ProgressBuffer: 64,
		},
		Provider: ProviderConfig{
			Mode:        "local",
			Endpoints:   map[string]string{},
			HTTPTimeout: 90 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Snapshots: SnapshotsConfig{
			Dir: "snapshots",
		},
		Actuator: ActuatorConfig{
			Kind:    "log",
			Timeout: 10 * time.Second,
		},
		MCP: MCPConfig{
			Addr:      ":8090",
			Transport: "http",
		},
		Agents: AgentsConfig{
			BasePort: 9100,
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

// SetDefaults registers every default with viper so that keys resolve even
// without a config file.
func SetDefaults() {
	d := Default()

	viper.SetDefault("invoker.max_attempts", d.Invoker.MaxAttempts)
	viper.SetDefault("invoker.base_backoff", d.Invoker.BaseBackoff)
	viper.SetDefault("invoker.max_backoff", d.Invoker.MaxBackoff)
	viper.SetDefault("invoker.call_timeout", d.Invoker.CallTimeout)

	viper.SetDefault("pipeline.stage_timeout", d.Pipeline.StageTimeout)
	viper.SetDefault("pipeline.progress_buffer", d.Pipeline.ProgressBuffer)

	viper.SetDefault("departments.dir", d.Departments.Dir)

	viper.SetDefault("provider.mode", d.Provider.Mode)
	viper.SetDefault("provider.endpoints", d.Provider.Endpoints)
	viper.SetDefault("provider.default_endpoint", d.Provider.DefaultEndpoint)
	viper.SetDefault("provider.http_timeout", d.Provider.HTTPTimeout)

	viper.SetDefault("store.backend", d.Store.Backend)
	viper.SetDefault("store.path", d.Store.Path)

	viper.SetDefault("snapshots.dir", d.Snapshots.Dir)
	viper.SetDefault("crm.fixture", d.CRM.Fixture)

	viper.SetDefault("actuator.kind", d.Actuator.Kind)
	viper.SetDefault("actuator.webhook_url", d.Actuator.WebhookURL)
	viper.SetDefault("actuator.timeout", d.Actuator.Timeout)

	viper.SetDefault("mcp.addr", d.MCP.Addr)
	viper.SetDefault("mcp.transport", d.MCP.Transport)

	viper.SetDefault("agents.base_port", d.Agents.BasePort)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.dir", d.Logging.Dir)

	viper.SetDefault("tracing.enabled", d.Tracing.Enabled)
}

// Init points viper at the config file (explicit path, or config.yaml in
// the standard search paths) and enables VIGIL_* environment overrides.
// A missing config file is not an error.
func Init(cfgFile string) error {
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(Dir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("VIGIL")
	// VIGIL_INVOKER_MAX_ATTEMPTS overrides invoker.max_attempts.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || (cfgFile == "" && os.IsNotExist(err)) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", viper.ConfigFileUsed(), err)
	}
	return nil
}

// Load unmarshals the current viper state and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// Dir returns the user's vigil config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vigil")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vigil"
	}
	return filepath.Join(home, ".config", "vigil")
}

// Validate returns every invalid setting found.
func (c *Config) Validate() errors.ValidationErrors {
	var errs errors.ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, errors.ValidationError{Field: field, Message: msg})
	}

	if c.Invoker.MaxAttempts < 1 {
		add("invoker.max_attempts", "must be at least 1")
	}
	if c.Invoker.BaseBackoff < 0 {
		add("invoker.base_backoff", "must not be negative")
	}
	if c.Invoker.MaxBackoff < c.Invoker.BaseBackoff {
		add("invoker.max_backoff", "must be >= invoker.base_backoff")
	}
	if c.Invoker.CallTimeout <= 0 {
		add("invoker.call_timeout", "must be positive")
	}
	if c.Pipeline.StageTimeout <= 0 {
		add("pipeline.stage_timeout", "must be positive")
	}
	if c.Pipeline.ProgressBuffer < 0 {
		add("pipeline.progress_buffer", "must not be negative")
	}

	switch c.Provider.Mode {
	case "local":
	case "a2a":
		if len(c.Provider.Endpoints) == 0 && c.Provider.DefaultEndpoint == "" {
			add("provider.endpoints", "a2a mode needs at least one endpoint or provider.default_endpoint")
		}
	default:
		add("provider.mode", fmt.Sprintf("unknown mode %q (want local or a2a)", c.Provider.Mode))
	}

	switch c.Store.Backend {
	case "memory", "kuzu":
	default:
		add("store.backend", fmt.Sprintf("unknown backend %q (want memory or kuzu)", c.Store.Backend))
	}

	switch c.Actuator.Kind {
	case "log":
	case "webhook":
		if c.Actuator.WebhookURL == "" {
			add("actuator.webhook_url", "required when actuator.kind is webhook")
		}
	default:
		add("actuator.kind", fmt.Sprintf("unknown kind %q (want log or webhook)", c.Actuator.Kind))
	}
	if c.Actuator.Timeout <= 0 {
		add("actuator.timeout", "must be positive")
	}

	switch c.MCP.Transport {
	case "http", "stdio":
	default:
		add("mcp.transport", fmt.Sprintf("unknown transport %q (want http or stdio)", c.MCP.Transport))
	}

	if c.Agents.BasePort <= 0 || c.Agents.BasePort > 65535 {
		add("agents.base_port", "must be a valid TCP port")
	}

	if logging.ParseLevel(c.Logging.Level) != strings.ToUpper(c.Logging.Level) {
		add("logging.level", fmt.Sprintf("unknown level %q (want one of %s)",
			c.Logging.Level, strings.Join(logging.ValidLevels(), ", ")))
	}

	return errs
}
