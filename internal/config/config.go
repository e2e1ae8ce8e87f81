package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string `yaml:"port"`
		PublicURL      string `yaml:"public_url"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
		// Store selects the session store backed by postgres instead of redis.
		Store bool `yaml:"store"`
	} `yaml:"postgres"`
	Sources struct {
		TTL string `yaml:"ttl"`
	} `yaml:"sources"`
	Battle struct {
		Timer           int    `yaml:"timer"`
		Retention       string `yaml:"retention"`
		PollInterval    string `yaml:"poll_interval"`
		CodeAttempts    int    `yaml:"code_attempts"`
		JanitorInterval string `yaml:"janitor_interval"`
	} `yaml:"battle"`
	Ledger struct {
		OpeningBalance int `yaml:"opening_balance"`
	} `yaml:"ledger"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Tracing struct {
		OTLPEndpoint string  `yaml:"otlp_endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SampleRatio  float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// the service can run fully in memory.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel maps the configured level name, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
