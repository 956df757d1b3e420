// Package config loads the service configuration from a config file and
// VERWATCH_-prefixed environment variables, with defaults sized for a
// single-node deployment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/verwatch/verwatch/internal/check"
)

// Config is the full configuration surface, read once at startup.
type Config struct {
	Environment string `mapstructure:"environment"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	HTTP struct {
		Addr           string        `mapstructure:"addr"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
		APIKey         string        `mapstructure:"api_key"`
	} `mapstructure:"http"`

	Transport struct {
		UserAgent       string        `mapstructure:"user_agent"`
		Timeout         time.Duration `mapstructure:"timeout"`
		MaxInFlight     int64         `mapstructure:"max_in_flight"`
		MaxConns        int           `mapstructure:"max_conns"`
		MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
		HostRPS         float64       `mapstructure:"host_rps"`
		HostBurst       int           `mapstructure:"host_burst"`
		MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"transport"`

	Scheduler struct {
		Slots           int           `mapstructure:"slots"`
		DefaultPriority string        `mapstructure:"default_priority"`
		CheckInterval   time.Duration `mapstructure:"check_interval"`
	} `mapstructure:"scheduler"`

	Retry map[string]RetryOverride `mapstructure:"retry"`

	Cache struct {
		Backend  string        `mapstructure:"backend"`
		TTL      time.Duration `mapstructure:"ttl"`
		Redis    string        `mapstructure:"redis_addr"`
		Password string        `mapstructure:"redis_password"`
		DB       int           `mapstructure:"redis_db"`
	} `mapstructure:"cache"`

	Database struct {
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"max_conns"`
		MinConns int32  `mapstructure:"min_conns"`
	} `mapstructure:"database"`

	PubSub struct {
		Enabled   bool   `mapstructure:"enabled"`
		ProjectID string `mapstructure:"project_id"`
		TopicID   string `mapstructure:"topic_id"`
	} `mapstructure:"pubsub"`

	Storage struct {
		Backend   string `mapstructure:"backend"`
		LocalDir  string `mapstructure:"local_dir"`
		GCSBucket string `mapstructure:"gcs_bucket"`
	} `mapstructure:"storage"`

	Headless struct {
		Enabled           bool          `mapstructure:"enabled"`
		MaxParallel       int           `mapstructure:"max_parallel"`
		NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	} `mapstructure:"headless"`

	Packages []PackageConfig `mapstructure:"packages"`
}

// RetryOverride adjusts the retry rule for one error kind. Zero fields keep
// the default; Retryable is a pointer so "false" can be expressed.
type RetryOverride struct {
	Retryable   *bool         `mapstructure:"retryable"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PackageConfig seeds one tracked package from the config file.
type PackageConfig struct {
	ID             string            `mapstructure:"id"`
	LocalVersion   string            `mapstructure:"local_version"`
	Kind           string            `mapstructure:"kind"`
	URL            string            `mapstructure:"url"`
	VersionKey     string            `mapstructure:"version_key"`
	VersionPattern string            `mapstructure:"version_pattern"`
	Headers        map[string]string `mapstructure:"headers"`
	Priority       string            `mapstructure:"priority"`
}

// Package converts the config entry to the core model.
func (p PackageConfig) Package() check.Package {
	return check.Package{
		ID:           p.ID,
		LocalVersion: p.LocalVersion,
		Source: check.SourceSpec{
			Kind:           p.Kind,
			URL:            p.URL,
			VersionKey:     p.VersionKey,
			VersionPattern: p.VersionPattern,
			Headers:        p.Headers,
		},
		Priority: check.ParsePriority(p.Priority),
	}
}

// Load reads configuration from the optional file at path (otherwise the
// usual search paths), layered under VERWATCH_-prefixed environment
// variables. A missing config file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("verwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/verwatch/")
		v.AddConfigPath("$HOME/.verwatch")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// RetryPolicy builds the retry policy with the configured overrides applied.
func (c Config) RetryPolicy() *check.RetryPolicy {
	policy := check.DefaultRetryPolicy()
	for name, o := range c.Retry {
		kind := check.ErrorKind(strings.ToLower(name))
		rule := policy.Rule(kind)
		if o.Retryable != nil {
			rule.Retryable = *o.Retryable
		}
		if o.MaxAttempts > 0 {
			rule.MaxAttempts = o.MaxAttempts
		}
		if o.BaseDelay > 0 {
			rule.BaseDelay = o.BaseDelay
		}
		if o.Multiplier > 0 {
			rule.Multiplier = o.Multiplier
		}
		if o.MaxDelay > 0 {
			rule.MaxDelay = o.MaxDelay
		}
		policy.Override(kind, rule)
	}
	return policy
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.request_timeout", "60s")

	v.SetDefault("transport.user_agent", "verwatch/1.0 (+https://github.com/verwatch/verwatch)")
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.max_in_flight", 10)
	v.SetDefault("transport.max_conns", 100)
	v.SetDefault("transport.max_conns_per_host", 10)
	v.SetDefault("transport.host_rps", 0)
	v.SetDefault("transport.host_burst", 1)
	v.SetDefault("transport.max_body_bytes", 10*1024*1024)

	v.SetDefault("scheduler.slots", 10)
	v.SetDefault("scheduler.default_priority", "normal")
	v.SetDefault("scheduler.check_interval", "0s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.local_dir", "data/artifacts")

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "45s")
}
