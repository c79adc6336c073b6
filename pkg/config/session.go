package config

import (
	"fmt"
	"time"
)

// Session store backends.
const (
	SessionMemory = "memory"
	SessionSQL    = "sql"
	SessionRedis  = "redis"
)

// SessionConfig selects where conversation state lives while a session is open.
type SessionConfig struct {
	Backend  string         `yaml:"backend"`
	TTL      time.Duration  `yaml:"ttl"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = SessionMemory
	}
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.Backend == SessionSQL {
		if c.Database.Driver == "" {
			c.Database.Driver = "sqlite"
		}
		if c.Database.Database == "" && c.Database.Dialect() == "sqlite" {
			c.Database.Database = "sahayak-sessions.db"
		}
		c.Database.SetDefaults()
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "sahayak:session:"
	}
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case SessionMemory, SessionRedis:
	case SessionSQL:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, sql, redis)", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}
	return nil
}
