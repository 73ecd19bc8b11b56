package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rpccache/pkg/client"
)

type Config struct {
	Origin    OriginConfig    `yaml:"origin"`
	Client    ClientConfig    `yaml:"client"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bench     BenchConfig     `yaml:"bench"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OriginConfig describes the local server benchmarks run against.
type OriginConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Body         string        `yaml:"body"`
	ContentType  string        `yaml:"content_type"`
	Delay        time.Duration `yaml:"delay"`
}

type ClientConfig struct {
	BaseURL             string        `yaml:"base_url"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	DisableRedirects    bool          `yaml:"disable_redirects"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	KeyPolicy       string        `yaml:"key_policy"`
	Paths           []string      `yaml:"paths"`
	SingleFlight    bool          `yaml:"single_flight"`
}

type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

type BenchConfig struct {
	Workers  int            `yaml:"workers"`
	Requests int            `yaml:"requests"`
	Warmup   int            `yaml:"warmup"`
	Targets  []TargetConfig `yaml:"targets"`
}

// TargetConfig is one request template in the benchmark mix.
type TargetConfig struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Charset string            `yaml:"charset"`
	Weight  int               `yaml:"weight"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Origin.Enabled {
		if c.Origin.Port <= 0 || c.Origin.Port > 65535 {
			return fmt.Errorf("invalid origin port: %d", c.Origin.Port)
		}
		if c.Origin.Delay < 0 {
			return fmt.Errorf("origin delay cannot be negative")
		}
	}

	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base_url is required when the origin is disabled")
	}
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid client base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client base_url must be absolute: %s", c.Client.BaseURL)
	}
	if c.Client.ConnectTimeout < 0 || c.Client.ReadTimeout < 0 {
		return fmt.Errorf("client timeouts cannot be negative")
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache TTL cannot be negative")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries cannot be negative")
	}
	if _, err := client.ParseKeyPolicy(c.Cache.KeyPolicy); err != nil {
		return err
	}
	for _, p := range c.Cache.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache path must start with '/': %s", p)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit requests per second must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
		if c.RateLimit.CleanupInterval <= 0 || c.RateLimit.IdleTimeout <= 0 {
			return fmt.Errorf("rate limit cleanup interval and idle timeout must be positive")
		}
	}

	if c.Bench.Workers <= 0 {
		return fmt.Errorf("bench workers must be positive")
	}
	if c.Bench.Requests <= 0 {
		return fmt.Errorf("bench requests must be positive")
	}
	if c.Bench.Warmup < 0 {
		return fmt.Errorf("bench warmup cannot be negative")
	}
	if len(c.Bench.Targets) == 0 {
		return fmt.Errorf("at least one bench target is required")
	}
	for i, target := range c.Bench.Targets {
		if !strings.HasPrefix(target.Path, "/") {
			return fmt.Errorf("target %d: path must start with '/'", i)
		}
		if target.Weight <= 0 {
			return fmt.Errorf("target %d: weight must be positive", i)
		}
	}

	return nil
}

func (c *Config) setDefaults() {
	if c.Origin.Host == "" {
		c.Origin.Host = "127.0.0.1"
	}
	if c.Origin.Port == 0 {
		c.Origin.Port = 8765
	}
	if c.Origin.ReadTimeout == 0 {
		c.Origin.ReadTimeout = 10 * time.Second
	}
	if c.Origin.WriteTimeout == 0 {
		c.Origin.WriteTimeout = 10 * time.Second
	}
	if c.Origin.ContentType == "" {
		c.Origin.ContentType = "application/json"
	}
	if c.Origin.Body == "" {
		c.Origin.Body = `{"user":"benchmark"}`
	}

	if c.Client.BaseURL == "" && c.Origin.Enabled {
		c.Client.BaseURL = fmt.Sprintf("http://%s:%d", c.Origin.Host, c.Origin.Port)
	}
	if c.Client.ConnectTimeout == 0 {
		c.Client.ConnectTimeout = 10 * time.Second
	}
	if c.Client.ReadTimeout == 0 {
		c.Client.ReadTimeout = 60 * time.Second
	}
	if c.Client.MaxIdleConns == 0 {
		c.Client.MaxIdleConns = 100
	}
	if c.Client.MaxIdleConnsPerHost == 0 {
		c.Client.MaxIdleConnsPerHost = 100
	}
	if c.Client.IdleConnTimeout == 0 {
		c.Client.IdleConnTimeout = 90 * time.Second
	}

	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10_000
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Second
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = 30 * time.Second
	}
	if c.Cache.KeyPolicy == "" {
		c.Cache.KeyPolicy = client.KeyByURL.String()
	}

	if c.RateLimit.CleanupInterval == 0 {
		c.RateLimit.CleanupInterval = time.Minute
	}
	if c.RateLimit.IdleTimeout == 0 {
		c.RateLimit.IdleTimeout = 5 * time.Minute
	}

	if c.Bench.Workers == 0 {
		c.Bench.Workers = 8
	}
	if c.Bench.Requests == 0 {
		c.Bench.Requests = 10_000
	}
	if len(c.Bench.Targets) == 0 {
		c.Bench.Targets = []TargetConfig{{
			Name:    "query",
			Path:    "/?Action=GetUser&Version=2010-05-08&limit=1",
			Headers: map[string]string{"Accept": "application/json"},
		}}
	}
	for i := range c.Bench.Targets {
		target := &c.Bench.Targets[i]
		if target.Method == "" {
			target.Method = http.MethodGet
		}
		if target.Weight == 0 {
			target.Weight = 1
		}
		if target.Name == "" {
			target.Name = target.Method + " " + target.Path
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// KeyPolicy returns the validated cache key policy.
func (c *Config) KeyPolicy() client.KeyPolicy {
	policy, _ := client.ParseKeyPolicy(c.Cache.KeyPolicy)
	return policy
}
