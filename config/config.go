package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agilemobiledev/errai/gateway"
	"github.com/agilemobiledev/errai/relay"
)

// Config represents the complete bus server configuration
type Config struct {
	Version  string         `json:"version"`
	Instance InstanceConfig `json:"instance"`
	Log      LogConfig      `json:"log"`
	Bus      BusConfig      `json:"bus"`
	Session  SessionConfig  `json:"session"`
	Security SecurityConfig `json:"security"`
	Gateway  GatewayConfig  `json:"gateway"`
	Relay    RelayConfig    `json:"relay"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// InstanceConfig identifies this bus instance
type InstanceConfig struct {
	// Name is the instance name, used in logs and federation stamps
	Name string `json:"name"`
	// Environment tags the deployment, e.g. "prod", "dev"
	Environment string `json:"environment,omitempty"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level"`
	// Format is json or text
	Format string `json:"format"`
}

// BusConfig tunes message dispatch
type BusConfig struct {
	// QueueSize is the per-subject delivery queue length
	QueueSize int `json:"queue_size"`
	// DispatchShards is the number of dispatch workers; messages for the
	// same subject always land on the same shard
	DispatchShards int `json:"dispatch_shards"`
	// DispatchQueueSize is the per-shard pending message cap
	DispatchQueueSize int `json:"dispatch_queue_size"`
}

// SessionConfig tunes the session store
type SessionConfig struct {
	// TTL is how long an idle session survives
	TTL time.Duration `json:"ttl"`
	// SweepInterval is how often expired sessions are collected
	SweepInterval time.Duration `json:"sweep_interval"`
}

// SecurityRuleConfig declares a per-subject role requirement
type SecurityRuleConfig struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// SecurityConfig configures authentication and subject rules
type SecurityConfig struct {
	// UsersFile is the credential properties file; required
	UsersFile string `json:"users_file"`
	// MOTD is attached to successful login replies when set
	MOTD string `json:"motd,omitempty"`
	// ReplySubject overrides where challenge outcomes are sent
	ReplySubject string `json:"reply_subject,omitempty"`
	// Rules are the security rules installed at startup
	Rules []SecurityRuleConfig `json:"rules,omitempty"`
}

// GatewayConfig enables the WebSocket gateway
type GatewayConfig struct {
	Enabled bool `json:"enabled"`
	gateway.Config
}

// RelayConfig enables the NATS federation relay
type RelayConfig struct {
	Enabled bool `json:"enabled"`
	relay.Config
}

// MetricsConfig exposes the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Instance: InstanceConfig{
			Name: "errai",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Bus: BusConfig{
			QueueSize:         256,
			DispatchShards:    8,
			DispatchQueueSize: 512,
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Config: gateway.Config{
				Addr: ":8080",
				Path: "/bus",
			},
		},
		Relay: RelayConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks if the config is valid. Subsystem sections also apply
// their own defaults here.
func (c *Config) Validate() error {
	if c.Instance.Name == "" {
		return errors.New("instance.name is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", c.Log.Format)
	}

	if c.Bus.QueueSize <= 0 {
		return errors.New("bus.queue_size must be positive")
	}
	if c.Bus.DispatchShards <= 0 {
		return errors.New("bus.dispatch_shards must be positive")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session.sweep_interval must be positive")
	}

	if c.Security.UsersFile == "" {
		return errors.New("security.users_file is required")
	}
	for i, rule := range c.Security.Rules {
		if rule.Subject == "" {
			return fmt.Errorf("security.rules[%d]: subject is required", i)
		}
	}

	if c.Gateway.Enabled {
		if c.Gateway.Addr == "" {
			return errors.New("gateway.addr is required when the gateway is enabled")
		}
		if err := c.Gateway.Config.Validate(); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	if c.Relay.Enabled {
		if err := c.Relay.Config.Validate(); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return errors.New("metrics.addr is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}
