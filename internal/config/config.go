package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Levels struct {
		TTL string `yaml:"ttl"`
	} `yaml:"levels"`
	Content struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		Timeout  string `yaml:"timeout"`
		Referer  string `yaml:"referer"`
		Title    string `yaml:"title"`
	} `yaml:"content"`
	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
	} `yaml:"retry"`
	Progression struct {
		Threshold        int    `yaml:"threshold"`
		DeactivatePolicy string `yaml:"deactivate_policy"`
	} `yaml:"progression"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Telemetry struct {
		ServiceName  string `yaml:"service_name"`
		OTLPEndpoint string `yaml:"otlp_endpoint"`
		Insecure     bool   `yaml:"insecure"`
	} `yaml:"telemetry"`
}

// Load reads YAML config from path, then applies environment overrides.
// A .env file in the working directory is loaded first when present; it never
// replaces variables already set in the process environment. A missing config
// file is not an error: defaults plus the environment are enough to start.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"OPENROUTER_API_KEY": &cfg.Content.APIKey,
		"OPENROUTER_MODEL":   &cfg.Content.Model,
		"DATABASE_URL":       &cfg.Postgres.URL,
		"REDIS_ADDR":         &cfg.Redis.Addr,
		"AMQP_URL":           &cfg.AMQP.URL,
		"OTLP_ENDPOINT":      &cfg.Telemetry.OTLPEndpoint,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Progression.Threshold <= 0 {
		cfg.Progression.Threshold = 50
	}
	if cfg.Progression.DeactivatePolicy == "" {
		cfg.Progression.DeactivatePolicy = "always"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "mat-gwiazda"
	}
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
