package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"yardhop/internal/viewcount"
	"yardhop/pkg/digest"
	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
	"yardhop/pkg/mailer"
	"yardhop/pkg/queue"
	"yardhop/pkg/store"
)

const (
	defaultDigestConcurrency = 4
	defaultDigestRadiusKm    = 25.0
	digestCandidateCap       = 500

	defaultSweepInterval = 5 * time.Minute
	defaultFlushInterval = time.Minute
)

// Config holds runtime configuration for the background worker.
type Config struct {
	DatabaseURL string
	RedisClient *redis.Client

	// Injectable dependencies; nil values are built from DatabaseURL and
	// RedisClient.
	Store  store.Store
	Queue  *queue.RedisJobQueue
	Views  *viewcount.Counter
	Mailer mailer.Mailer

	QueueName         string
	QueueGroup        string
	DigestConcurrency int
	DigestRadiusKm    float64
	SiteBaseURL       string

	PromotionSweepInterval time.Duration
	ViewFlushInterval      time.Duration
}

// App runs the three background loops: digest delivery, promotion expiry,
// and view-count flushing.
type App struct {
	store  store.Store
	queue  *queue.RedisJobQueue
	views  *viewcount.Counter
	mailer mailer.Mailer

	digestConcurrency int
	digestRadiusKm    float64
	siteBaseURL       string

	sweepInterval time.Duration
	flushInterval time.Duration
}

// New constructs the worker. Stores not injected through Config are built
// from DatabaseURL and RedisClient.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	digestQueue := cfg.Queue
	if digestQueue == nil {
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for the digest queue")
		}
		var err error
		digestQueue, err = queue.NewRedisJobQueue(cfg.RedisClient, queue.RedisQueueConfig{
			Stream: cfg.QueueName,
			Group:  cfg.QueueGroup,
		})
		if err != nil {
			return nil, fmt.Errorf("init digest queue: %w", err)
		}
	}

	views := cfg.Views
	if views == nil {
		if cfg.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for view counters")
		}
		views = viewcount.NewCounter(cfg.RedisClient)
	}

	mail := cfg.Mailer
	if mail == nil {
		mail = mailer.NopMailer{}
	}

	concurrency := cfg.DigestConcurrency
	if concurrency <= 0 {
		concurrency = defaultDigestConcurrency
	}
	radius := cfg.DigestRadiusKm
	if radius <= 0 {
		radius = defaultDigestRadiusKm
	}
	sweep := cfg.PromotionSweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	flush := cfg.ViewFlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	return &App{
		store:             dataStore,
		queue:             digestQueue,
		views:             views,
		mailer:            mail,
		digestConcurrency: concurrency,
		digestRadiusKm:    radius,
		siteBaseURL:       cfg.SiteBaseURL,
		sweepInterval:     sweep,
		flushInterval:     flush,
	}, nil
}

// Run starts the digest consumers and the two tickers, then blocks until
// ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.queue.Start(ctx, a.digestConcurrency, a.processDigestJob)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sweepLoop(gctx) })
	g.Go(func() error { return a.flushLoop(gctx) })
	return g.Wait()
}

// processDigestJob builds and sends one recipient's weekly digest. Errors
// requeue the job; skips acknowledge it.
func (a *App) processDigestJob(ctx context.Context, job queue.DigestJob) error {
	now := time.Now().UTC()

	user, ok, err := a.store.GetUserByID(job.RecipientID)
	if err != nil {
		return fmt.Errorf("fetch recipient: %w", err)
	}
	if !ok || user.Status != domain.StatusActive {
		return nil
	}
	profile, ok, err := a.store.GetProfile(user.ID)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	if !ok || !profile.DigestOptIn {
		return nil
	}
	// Redeliveries of an already-sent week are acknowledged, not resent.
	if !profile.LastDigestAt.IsZero() && digest.WeekKey(profile.LastDigestAt) == job.WeekKey {
		return nil
	}

	home, ok, err := a.homePoint(profile)
	if err != nil {
		return fmt.Errorf("resolve home point: %w", err)
	}
	if !ok {
		slog.Info("digest skipped, recipient has no home location", "user_id", user.ID)
		return nil
	}

	box := geo.FromCenter(home, a.digestRadiusKm)
	candidates, err := a.store.ListDigestCandidates(box, now, digestCandidateCap)
	if err != nil {
		return fmt.Errorf("list digest candidates: %w", err)
	}
	picks := digest.Select(user.ID, job.WeekKey, now, candidates)
	if len(picks) == 0 {
		if err := a.store.SetLastDigestAt(user.ID, now); err != nil {
			return fmt.Errorf("mark quiet week: %w", err)
		}
		slog.Info("digest skipped, no sales this week", "user_id", user.ID, "week", job.WeekKey)
		return nil
	}

	msg, err := renderDigestEmail(user.Email, profile.DisplayName, picks, a.siteBaseURL, now)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	if err := a.store.SetLastDigestAt(user.ID, now); err != nil {
		return fmt.Errorf("record digest sent: %w", err)
	}
	slog.Info("digest sent", "user_id", user.ID, "week", job.WeekKey, "sales", len(picks))
	return nil
}

// homePoint resolves the recipient's home location, falling back to the zip
// gazetteer when the profile never stored resolved coordinates.
func (a *App) homePoint(profile domain.Profile) (geo.Point, bool, error) {
	if profile.HomeLat != 0 || profile.HomeLng != 0 {
		return geo.Point{Lat: profile.HomeLat, Lng: profile.HomeLng}, true, nil
	}
	if profile.HomeZip == "" {
		return geo.Point{}, false, nil
	}
	row, ok, err := a.store.GetZipCode(profile.HomeZip)
	if err != nil || !ok {
		return geo.Point{}, false, err
	}
	return geo.Point{Lat: row.Lat, Lng: row.Lng}, true, nil
}

// SweepPromotions marks lapsed promotions expired and clears the boost flag
// on their sales. Returns how many promotions were expired.
func (a *App) SweepPromotions(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	lapsed, err := a.store.ListLapsedPromotions(now)
	if err != nil {
		return 0, fmt.Errorf("list lapsed promotions: %w", err)
	}
	expired := 0
	for _, promo := range lapsed {
		promo.Status = domain.PromotionExpired
		promo.UpdatedAt = now
		if err := a.store.SavePromotion(promo); err != nil {
			slog.Warn("promotion expiry did not stick", "promotion_id", promo.ID, "error", err)
			continue
		}
		sale, ok, err := a.store.GetSale(promo.SaleID)
		if err != nil {
			slog.Warn("sale fetch during promotion expiry failed", "sale_id", promo.SaleID, "error", err)
			continue
		}
		// A newer promotion may still cover the sale; leave its flag alone.
		if ok && !sale.PromotedUntil.IsZero() && !sale.PromotedUntil.After(now) {
			if err := a.store.SetPromotedUntil(sale.ID, time.Time{}); err != nil {
				slog.Warn("clearing promoted flag failed", "sale_id", sale.ID, "error", err)
				continue
			}
		}
		expired++
	}
	return expired, nil
}

// FlushViewCounts drains the redis view counters into the sales table.
// Returns the total number of views flushed.
func (a *App) FlushViewCounts(ctx context.Context) (int64, error) {
	counts, err := a.views.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain view counters: %w", err)
	}
	if len(counts) == 0 {
		return 0, nil
	}
	if err := a.store.AddSaleViews(counts); err != nil {
		return 0, fmt.Errorf("flush view counts: %w", err)
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (a *App) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired, err := a.SweepPromotions(ctx)
			if err != nil {
				slog.Warn("promotion sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				slog.Info("promotions expired", "count", expired)
			}
		}
	}
}

func (a *App) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			views, err := a.FlushViewCounts(ctx)
			if err != nil {
				slog.Warn("view count flush failed", "error", err)
				continue
			}
			if views > 0 {
				slog.Info("view counts flushed", "views", views)
			}
		}
	}
}
