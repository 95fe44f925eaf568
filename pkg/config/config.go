// Package config provides configuration structures and loading logic for the
// decode governor daemon.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/decodeguard/internal/hook"
	"github.com/polisai/decodeguard/pkg/domain"
)

const (
	// DefaultSymbol is the decode entry point governed when none is configured.
	DefaultSymbol = hook.DecodeSymbol

	defaultListenAddress = ":27015"
	defaultAdminAddress  = ":19090"
	defaultMaxFrameBytes = 64 * 1024
	defaultWriteTimeout  = 5 * time.Second
	minFrameBytes        = 16
	maxFrameBytes        = 16 * 1024 * 1024
)

// Config holds the global configuration for the daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hook      HookConfig      `yaml:"hook"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the addresses of the message host and the admin server.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	AdminAddress  string `yaml:"admin_address"`
	MaxFrameBytes int    `yaml:"max_frame_bytes"`
	// WriteTimeout bounds each write to a peer.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// HookConfig selects the governed entry point. Enabled is the only setting
// applied on reload.
type HookConfig struct {
	Symbol  string `yaml:"symbol"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: defaultListenAddress,
			AdminAddress:  defaultAdminAddress,
			MaxFrameBytes: defaultMaxFrameBytes,
			WriteTimeout:  defaultWriteTimeout,
		},
		Hook: HookConfig{
			Symbol:  DefaultSymbol,
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "decodeguard",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("DECODEGUARD_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("DECODEGUARD_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("DECODEGUARD_HOOK_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Hook.Enabled = enabled
		}
	}

	if val := os.Getenv("DECODEGUARD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("DECODEGUARD_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DECODEGUARD_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("DECODEGUARD_OTLP_HEADERS"); val != "" {
		if cfg.Telemetry.Headers == nil {
			cfg.Telemetry.Headers = make(map[string]string)
		}
		for k, v := range parseKeyValues(val) {
			cfg.Telemetry.Headers[k] = v
		}
	}
	if val := os.Getenv("DECODEGUARD_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}
}

// parseKeyValues parses "k1=v1,k2=v2". Entries without a key are skipped.
func parseKeyValues(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// Validate checks the whole configuration. Every failure wraps
// domain.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Hook.Validate(); err != nil {
		return fmt.Errorf("hook configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("%w: listen_address is required", domain.ErrConfigInvalid)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("%w: listen_address %q: %v", domain.ErrConfigInvalid, c.ListenAddress, err)
	}

	// An empty admin address disables the admin server.
	if c.AdminAddress != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddress); err != nil {
			return fmt.Errorf("%w: admin_address %q: %v", domain.ErrConfigInvalid, c.AdminAddress, err)
		}
		if c.AdminAddress == c.ListenAddress {
			return fmt.Errorf("%w: admin_address %q conflicts with listen_address", domain.ErrConfigInvalid, c.AdminAddress)
		}
	}

	if c.MaxFrameBytes == 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	if c.MaxFrameBytes < minFrameBytes || c.MaxFrameBytes > maxFrameBytes {
		return fmt.Errorf("%w: max_frame_bytes must be between %d and %d, got %d",
			domain.ErrConfigInvalid, minFrameBytes, maxFrameBytes, c.MaxFrameBytes)
	}

	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write_timeout must be positive, got %s", domain.ErrConfigInvalid, c.WriteTimeout)
	}

	return nil
}

// Validate performs validation of hook configuration
func (c *HookConfig) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		c.Symbol = DefaultSymbol
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("%w: invalid log level %q, supported levels: debug, info, warn, error",
			domain.ErrConfigInvalid, c.Level)
	}
}
