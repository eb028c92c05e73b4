package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "ERRAI",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers, and environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, raw)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRawJSON loads a configuration file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	l.parseDurations(raw)
	return raw, nil
}

// mergeFromMap merges a raw map over the base config, only overriding fields
// present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds so the typed
// config can unmarshal them.
func (l *Loader) parseDurations(raw map[string]any) {
	if sess, ok := raw["session"].(map[string]any); ok {
		parseDurationKey(sess, "ttl")
		parseDurationKey(sess, "sweep_interval")
	}
	if rl, ok := raw["relay"].(map[string]any); ok {
		parseDurationKey(rl, "reconnect_wait")
	}
}

func parseDurationKey(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_INSTANCE_NAME"); val != "" {
		cfg.Instance.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv(l.envPrefix + "_SECURITY_USERS_FILE"); val != "" {
		cfg.Security.UsersFile = val
	}
	if val := os.Getenv(l.envPrefix + "_SECURITY_MOTD"); val != "" {
		cfg.Security.MOTD = val
	}
	if val := os.Getenv(l.envPrefix + "_GATEWAY_ADDR"); val != "" {
		cfg.Gateway.Addr = val
	}
	if val := os.Getenv(l.envPrefix + "_RELAY_URL"); val != "" {
		cfg.Relay.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_RELAY_NAME"); val != "" {
		cfg.Relay.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_ADDR"); val != "" {
		cfg.Metrics.Addr = val
	}
}
