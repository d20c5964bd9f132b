package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type AppConfig struct {
	BindAddr      string `yaml:"bind_addr"`
	PublicBaseURL string `yaml:"public_base_url"`

	RedisURL   string `yaml:"redis_url"`
	ArchiveURL string `yaml:"archive_url"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	MessagesDir    string   `yaml:"messages_dir"`

	ReleaseSeatOnDisconnect bool `yaml:"release_seat_on_disconnect"`
	EndMatchOnFirstTerminal bool `yaml:"end_match_on_first_terminal"`
	MaxConnsPerSession      int  `yaml:"max_conns_per_session"`

	SessionIndexTTLSec int `yaml:"session_index_ttl_sec"`
	ArchiveTimeoutSec  int `yaml:"archive_timeout_sec"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *AppConfig {
	return &AppConfig{
		BindAddr:                "0.0.0.0:3000",
		EndMatchOnFirstTerminal: true,
		MaxConnsPerSession:      16,
		SessionIndexTTLSec:      86400,
		ArchiveTimeoutSec:       5,
	}
}

// Load applies, in order: defaults, the YAML file named by BUGHOUSE_CONFIG, env vars.
func Load() (*AppConfig, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("BUGHOUSE_CONFIG")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("BIND_ADDR")); v != "" {
		c.BindAddr = v
	} else if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.BindAddr = net.JoinHostPort("0.0.0.0", v)
	}
	if v := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")); v != "" {
		c.PublicBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		c.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_URL")); v != "" {
		c.ArchiveURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("MESSAGES_DIR")); v != "" {
		c.MessagesDir = v
	}
	if v := strings.TrimSpace(os.Getenv("RELEASE_SEAT_ON_DISCONNECT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ReleaseSeatOnDisconnect = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("END_MATCH_ON_FIRST_TERMINAL")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.EndMatchOnFirstTerminal = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONNS_PER_SESSION")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConnsPerSession = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_INDEX_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SessionIndexTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_TIMEOUT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.ArchiveTimeoutSec = n
		}
	}
}

// Validate rejects combinations the server cannot start with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return errors.New("BIND_ADDR is required")
	}
	if _, _, err := net.SplitHostPort(c.BindAddr); err != nil {
		return fmt.Errorf("invalid BIND_ADDR %q: %w", c.BindAddr, err)
	}
	if c.MaxConnsPerSession <= 0 {
		return errors.New("MAX_CONNS_PER_SESSION must be greater than 0")
	}
	if c.SessionIndexTTLSec <= 0 {
		return errors.New("SESSION_INDEX_TTL must be greater than 0")
	}
	if c.ArchiveTimeoutSec <= 0 {
		c.ArchiveTimeoutSec = 5
	}
	return nil
}

func (c *AppConfig) SessionIndexTTL() time.Duration {
	return time.Duration(c.SessionIndexTTLSec) * time.Second
}

func (c *AppConfig) ArchiveTimeout() time.Duration {
	return time.Duration(c.ArchiveTimeoutSec) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
