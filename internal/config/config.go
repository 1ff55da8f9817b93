package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"labeling-service/internal/models"

	"gopkg.in/yaml.v3"
)

const devJWTSecret = "dev-only-insecure-secret"

// Config holds application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Type string `yaml:"type"` // "sqlite", "postgres", "file" or "memory"
		Path string `yaml:"path"` // SQLite path, PostgreSQL URL or JSON file
	} `yaml:"database"`

	Auth struct {
		JWTSecret    string        `yaml:"jwt_secret"`
		TokenTTL     string        `yaml:"token_ttl"`
		AdminCode    string        `yaml:"admin_code"`
		DefaultUsers []DefaultUser `yaml:"default_users"`
		LoginRPS     float64       `yaml:"login_rps"`
		LoginBurst   int           `yaml:"login_burst"`
	} `yaml:"auth"`

	Labels struct {
		Reasons []string `yaml:"reasons"`
	} `yaml:"labels"`

	Assignment struct {
		Shuffle *bool `yaml:"shuffle"`
		Seed    int64 `yaml:"seed"`
	} `yaml:"assignment"`

	Log struct {
		Development *bool `yaml:"development"`
	} `yaml:"log"`
}

// DefaultUser is an account seeded at startup.
type DefaultUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// Expand environment variables in secrets
	config.Auth.JWTSecret = os.ExpandEnv(config.Auth.JWTSecret)
	config.Auth.AdminCode = os.ExpandEnv(config.Auth.AdminCode)
	config.Database.Path = os.ExpandEnv(config.Database.Path)
	for i := range config.Auth.DefaultUsers {
		config.Auth.DefaultUsers[i].Password = os.ExpandEnv(config.Auth.DefaultUsers[i].Password)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8002"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Database.Path == "" {
		switch c.Database.Type {
		case "file":
			c.Database.Path = "./data/data.json"
		default:
			c.Database.Path = "./data/labels.db"
		}
	}

	// Only throwaway in-memory runs may sign with the built-in secret.
	if c.Auth.JWTSecret == "" && c.Database.Type == "memory" {
		c.Auth.JWTSecret = devJWTSecret
	}

	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}

	if c.Auth.LoginRPS == 0 {
		c.Auth.LoginRPS = 1
	}

	if c.Auth.LoginBurst == 0 {
		c.Auth.LoginBurst = 5
	}

	if c.Assignment.Shuffle == nil {
		shuffle := true
		c.Assignment.Shuffle = &shuffle
	}

	if c.Log.Development == nil {
		development := true
		c.Log.Development = &development
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "file", "memory":
	default:
		return fmt.Errorf("unknown database type %q", c.Database.Type)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required for %s storage", c.Database.Type)
	}

	ttl, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("invalid auth.token_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Auth.LoginRPS < 0 || c.Auth.LoginBurst < 0 {
		return fmt.Errorf("login throttle must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Labels.Reasons))
	for _, r := range c.Labels.Reasons {
		if r == "" {
			return fmt.Errorf("labels.reasons contains an empty reason")
		}
		if strings.Contains(r, models.ReasonSeparator) {
			return fmt.Errorf("reason %q must not contain %q", r, models.ReasonSeparator)
		}
		if _, ok := seen[r]; ok {
			return fmt.Errorf("duplicate reason %q", r)
		}
		seen[r] = struct{}{}
	}

	for _, u := range c.Auth.DefaultUsers {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("default users need a username and password")
		}
		switch u.Role {
		case "", "student", "admin":
		default:
			return fmt.Errorf("default user %s has unknown role %q", u.Username, u.Role)
		}
	}

	return nil
}

// TokenTTL returns the parsed token lifetime. Validate must have passed.
func (c *Config) TokenTTL() time.Duration {
	ttl, _ := time.ParseDuration(c.Auth.TokenTTL)
	return ttl
}

// UsesDevSecret reports whether tokens are signed with the built-in secret.
func (c *Config) UsesDevSecret() bool {
	return c.Auth.JWTSecret == devJWTSecret
}
