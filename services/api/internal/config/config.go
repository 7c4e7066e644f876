package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, relative to the service directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`
	SessionTTL  string `yaml:"sessionTTL"`
	RefreshTTL  string `yaml:"refreshTTL"`

	InternalTokenSecret        string   `yaml:"internalTokenSecret"`
	InternalTokenVerifySecrets string   `yaml:"internalTokenVerifySecrets"`
	InternalTokenAudience      string   `yaml:"internalTokenAudience"`
	InternalTokenIssuers       []string `yaml:"internalTokenIssuers"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	GeocoderURL    string `yaml:"geocoderURL"`
	GeocoderAPIKey string `yaml:"geocoderAPIKey"`

	PaymentsBaseURL    string `yaml:"paymentsBaseURL"`
	PaymentsAPIKey     string `yaml:"paymentsAPIKey"`
	WebhookSecret      string `yaml:"webhookSecret"`
	CheckoutSuccessURL string `yaml:"checkoutSuccessURL"`
	CheckoutCancelURL  string `yaml:"checkoutCancelURL"`

	PromotionPriceCents int64  `yaml:"promotionPriceCents"`
	PromotionCurrency   string `yaml:"promotionCurrency"`
	PromotionDays       int    `yaml:"promotionDays"`

	DigestQueueName string `yaml:"digestQueueName"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`

	SignupRateLimitPerMinute   int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	RefreshRateLimitPerMinute  int `yaml:"refreshRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`

	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
	MaxPhotosPerSale  int      `yaml:"maxPhotosPerSale"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
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
	if v := os.Getenv("YARDHOP_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("YARDHOP_INTERNAL_TOKEN_SECRET"); v != "" {
		cfg.InternalTokenSecret = v
	}
	if v := os.Getenv("YARDHOP_INTERNAL_TOKEN_VERIFY_SECRETS"); v != "" {
		cfg.InternalTokenVerifySecrets = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("GEOCODER_URL"); v != "" {
		cfg.GeocoderURL = v
	}
	if v := os.Getenv("GEOCODER_API_KEY"); v != "" {
		cfg.GeocoderAPIKey = v
	}
	if v := os.Getenv("PAYMENTS_BASE_URL"); v != "" {
		cfg.PaymentsBaseURL = v
	}
	if v := os.Getenv("PAYMENTS_API_KEY"); v != "" {
		cfg.PaymentsAPIKey = v
	}
	if v := os.Getenv("YARDHOP_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("API_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("API_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_REFRESH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_PASSWORD_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PasswordRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("API_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting, sessions, and the digest queue")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set YARDHOP_JWT_SECRET)")
	}
	if len(cfg.InternalTokenSecret) < 32 {
		return errors.New("config: internalTokenSecret must be at least 32 bytes (set YARDHOP_INTERNAL_TOKEN_SECRET)")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return errors.New("config: webhookSecret is required (set in config.yaml or YARDHOP_WEBHOOK_SECRET)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
		return errors.New("config: photo storage requires minioEndpoint, minioAccessKey, minioSecretKey, and minioBucket")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.RefreshRateLimitPerMinute < 0 || cfg.PasswordRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.PromotionPriceCents < 0 {
		return errors.New("config: promotionPriceCents must be >= 0")
	}
	if cfg.PromotionDays < 0 {
		return errors.New("config: promotionDays must be >= 0")
	}
	if cfg.MaxPhotosPerSale < 0 {
		return errors.New("config: maxPhotosPerSale must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// ParseTTL parses an optional duration string like "15m" or "168h". Empty
// input returns zero, which callers treat as use-the-default.
func ParseTTL(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return dur, nil
}
