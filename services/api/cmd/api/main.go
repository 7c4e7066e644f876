package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"yardhop/internal/servicetoken"
	"yardhop/internal/util"
	"yardhop/pkg/geocode"
	"yardhop/pkg/payments"
	"yardhop/pkg/queue"
	"yardhop/pkg/storage"
	"yardhop/services/api/internal/app"
	"yardhop/services/api/internal/config"
	"yardhop/services/api/internal/server"
)

const defaultDigestStream = "yardhop:digest:jobs"

func main() {
	// .env from the service dir, the services dir, or the repo root.
	_ = godotenv.Overload(".env", "../.env", "../../.env")

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseTTL("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	refreshTTL, err := config.ParseTTL("refreshTTL", cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("failed to parse refresh TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}

	logger := util.InitLogger("api", cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init photo storage: %v", err)
	}

	stream := cfg.DigestQueueName
	if stream == "" {
		stream = defaultDigestStream
	}
	digestQueue, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{Stream: stream})
	if err != nil {
		log.Fatalf("failed to init digest queue: %v", err)
	}

	verifySecrets, err := servicetoken.ParseVerifySecrets(cfg.InternalTokenVerifySecrets)
	if err != nil {
		log.Fatalf("failed to parse internal token verify secrets: %v", err)
	}
	audience := cfg.InternalTokenAudience
	if audience == "" {
		audience = "yardhop-api"
	}
	issuers := cfg.InternalTokenIssuers
	if len(issuers) == 0 {
		issuers = []string{"yardhop-scheduler"}
	}
	internalTokens, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		Secret:          cfg.InternalTokenSecret,
		VerifySecretMap: verifySecrets,
		Audience:        audience,
		AllowedIssuers:  issuers,
	})
	if err != nil {
		log.Fatalf("failed to init internal token verifier: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxy CIDRs: %v", err)
	}

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		RedisClient: redisClient,

		SessionTTL:  sessionTTL,
		RefreshTTL:  refreshTTL,
		JWTSecret:   cfg.JWTSecret,
		JWTIssuer:   cfg.JWTIssuer,
		JWTAudience: cfg.JWTAudience,
		JWTLeeway:   jwtLeeway,

		Objects: objects,
		Queue:   digestQueue,

		WebhookSecret:      cfg.WebhookSecret,
		CheckoutSuccessURL: cfg.CheckoutSuccessURL,
		CheckoutCancelURL:  cfg.CheckoutCancelURL,

		PromotionPriceCents: cfg.PromotionPriceCents,
		PromotionCurrency:   cfg.PromotionCurrency,
		PromotionDays:       cfg.PromotionDays,

		MaxPhotosPerSale: cfg.MaxPhotosPerSale,
	}
	if cfg.PaymentsBaseURL != "" {
		appCfg.Payments = payments.NewClient(cfg.PaymentsBaseURL, cfg.PaymentsAPIKey)
	}
	if cfg.GeocoderURL != "" {
		appCfg.ExternalGeocoder = geocode.NewHTTPGeocoder(cfg.GeocoderURL, cfg.GeocoderAPIKey)
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		RedisClient:    redisClient,
		InternalTokens: internalTokens,
		TrustedProxies: trustedProxies,
		AllowedOrigins: cfg.AllowedOrigins,

		SignupRateLimitPerMinute:   cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		RefreshRateLimitPerMinute:  cfg.RefreshRateLimitPerMinute,
		PasswordRateLimitPerMinute: cfg.PasswordRateLimitPerMinute,

		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("api server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
