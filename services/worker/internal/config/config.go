package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, relative to the service directory.
const ConfigPath = "config.yaml"

// FileConfig is the on-disk configuration for the background worker.
type FileConfig struct {
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	DigestQueueName   string  `yaml:"digestQueueName"`
	DigestQueueGroup  string  `yaml:"digestQueueGroup"`
	DigestConcurrency int     `yaml:"digestConcurrency"`
	DigestRadiusKm    float64 `yaml:"digestRadiusKm"`

	MailerBaseURL string `yaml:"mailerBaseURL"`
	MailerAPIKey  string `yaml:"mailerAPIKey"`
	MailerFrom    string `yaml:"mailerFrom"`
	SiteBaseURL   string `yaml:"siteBaseURL"`

	PromotionSweepInterval string `yaml:"promotionSweepInterval"`
	ViewFlushInterval      string `yaml:"viewFlushInterval"`
}

// Load reads the YAML config and applies environment overrides.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("WORKER_DIGEST_QUEUE"); v != "" {
		cfg.DigestQueueName = v
	}
	if v := os.Getenv("WORKER_DIGEST_GROUP"); v != "" {
		cfg.DigestQueueGroup = v
	}
	if v := os.Getenv("WORKER_DIGEST_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_DIGEST_CONCURRENCY: %w", err)
		}
		cfg.DigestConcurrency = n
	}
	if v := os.Getenv("WORKER_DIGEST_RADIUS_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse WORKER_DIGEST_RADIUS_KM: %w", err)
		}
		cfg.DigestRadiusKm = f
	}
	if v := os.Getenv("MAILER_BASE_URL"); v != "" {
		cfg.MailerBaseURL = v
	}
	if v := os.Getenv("MAILER_API_KEY"); v != "" {
		cfg.MailerAPIKey = v
	}
	if v := os.Getenv("MAILER_FROM"); v != "" {
		cfg.MailerFrom = v
	}
	if v := os.Getenv("SITE_BASE_URL"); v != "" {
		cfg.SiteBaseURL = v
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *FileConfig) error {
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required for the digest queue and view counters (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.DigestConcurrency < 0 {
		return errors.New("config: digestConcurrency must not be negative")
	}
	if cfg.DigestRadiusKm < 0 {
		return errors.New("config: digestRadiusKm must not be negative")
	}
	return nil
}

// ParseInterval converts a loop interval from its config string. Empty means
// zero, which the worker replaces with its default.
func ParseInterval(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}
