package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a named deployment profile that overlays the environment
// configuration. Zero values leave the corresponding Config field untouched.
type Profile struct {
	Name          string `yaml:"name" json:"name"`
	Port          string `yaml:"port,omitempty" json:"port,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	MaxRuns       int64  `yaml:"max_concurrent_runs,omitempty" json:"max_concurrent_runs,omitempty"`
	MaxReruns     int    `yaml:"max_reruns,omitempty" json:"max_reruns,omitempty"`
	RunTimeout    string `yaml:"run_timeout,omitempty" json:"run_timeout,omitempty"`
	SessionTTL    string `yaml:"session_idle_ttl,omitempty" json:"session_idle_ttl,omitempty"`
	EventQueueLen int    `yaml:"event_queue_len,omitempty" json:"event_queue_len,omitempty"`

	RateRPS   float64 `yaml:"rate_limit_rps,omitempty" json:"rate_limit_rps,omitempty"`
	RateBurst int     `yaml:"rate_limit_burst,omitempty" json:"rate_limit_burst,omitempty"`

	StateBackend string `yaml:"state_backend,omitempty" json:"state_backend,omitempty"`
	SQLitePath   string `yaml:"sqlite_path,omitempty" json:"sqlite_path,omitempty"`
	RedisAddr    string `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`

	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" json:"otlp_endpoint,omitempty"`
	Environment  string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

// LoadProfile loads a deployment profile YAML by name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}

	return &profile, nil
}

// Apply overlays the profile onto cfg. Only fields the profile sets are
// copied; malformed durations are reported rather than silently dropped.
func (p *Profile) Apply(cfg *Config) error {
	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.MaxRuns > 0 {
		cfg.MaxRuns = p.MaxRuns
	}
	if p.MaxReruns > 0 {
		cfg.MaxReruns = p.MaxReruns
	}
	if p.RunTimeout != "" {
		d, err := time.ParseDuration(p.RunTimeout)
		if err != nil {
			return fmt.Errorf("profile %q: run_timeout: %w", p.Name, err)
		}
		cfg.RunTimeout = d
	}
	if p.SessionTTL != "" {
		d, err := time.ParseDuration(p.SessionTTL)
		if err != nil {
			return fmt.Errorf("profile %q: session_idle_ttl: %w", p.Name, err)
		}
		cfg.SessionTTL = d
	}
	if p.EventQueueLen > 0 {
		cfg.EventQueueLen = p.EventQueueLen
	}
	if p.RateRPS > 0 {
		cfg.RateRPS = p.RateRPS
	}
	if p.RateBurst > 0 {
		cfg.RateBurst = p.RateBurst
	}
	if p.StateBackend != "" {
		cfg.StateBackend = p.StateBackend
	}
	if p.SQLitePath != "" {
		cfg.SQLitePath = p.SQLitePath
	}
	if p.RedisAddr != "" {
		cfg.RedisAddr = p.RedisAddr
	}
	if p.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = p.OTLPEndpoint
	}
	if p.Environment != "" {
		cfg.Environment = p.Environment
	}
	return nil
}
