package config

import (
	"fmt"
	"time"
)

// ServerConfig configures the HTTP session boundary.
type ServerConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	Auth         AuthConfig      `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig enables JWT validation against a JWKS endpoint.
type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// RequiredRoles limits /v1 to tokens whose role claim is one of them.
	RequiredRoles []string `yaml:"required_roles"`
	// ProfileClaims are custom claims copied into the business profile of
	// each turn. Profile entries sent with the request take precedence.
	ProfileClaims []string `yaml:"profile_claims"`
}

// Rate limit store backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// RateLimitConfig caps how many turns one caller may start per window.
// Callers are keyed by token subject when auth is on, else by client IP.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	Redis   RedisConfig   `yaml:"redis"`
	Limits  []LimitConfig `yaml:"limits"`
}

// LimitConfig is one request quota. Window is minute, hour, day or week.
type LimitConfig struct {
	Window string `yaml:"window"`
	Limit  int64  `yaml:"limit"`
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = RateLimitMemory
	}
	if c.Enabled && len(c.Limits) == 0 {
		c.Limits = []LimitConfig{
			{Window: "minute", Limit: 20},
			{Window: "day", Limit: 500},
		}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "sahayak:ratelimit:"
	}
}

func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("invalid backend %q (valid: memory, redis)", c.Backend)
	}
	for i, l := range c.Limits {
		switch l.Window {
		case "minute", "hour", "day", "week":
		default:
			return fmt.Errorf("limits[%d]: invalid window %q (valid: minute, hour, day, week)", i, l.Window)
		}
		if l.Limit <= 0 {
			return fmt.Errorf("limits[%d]: limit must be positive", i)
		}
	}
	return nil
}

func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		// Must outlive a full orchestrated turn.
		c.WriteTimeout = 3 * time.Minute
	}
	c.RateLimit.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Auth.Enabled {
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url is required when auth is enabled")
		}
		if c.Auth.Issuer == "" || c.Auth.Audience == "" {
			return fmt.Errorf("auth.issuer and auth.audience are required when auth is enabled")
		}
	}
	for _, role := range c.Auth.RequiredRoles {
		if role == "" {
			return fmt.Errorf("auth.required_roles must not contain empty roles")
		}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	return nil
}

// ObservabilityConfig toggles metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

func (c *ObservabilityConfig) SetDefaults() {
	t := &c.Tracing
	if t.Exporter == "" {
		t.Exporter = "otlp"
	}
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SamplingRate == 0 {
		t.SamplingRate = 1.0
	}
	if t.ServiceName == "" {
		t.ServiceName = "sahayak"
	}
}

func (c *ObservabilityConfig) Validate() error {
	switch c.Tracing.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q is invalid (valid: otlp, stdout)", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}
