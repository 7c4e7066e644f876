package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"yardhop/internal/viewcount"
	"yardhop/pkg/digest"
	"yardhop/pkg/domain"
	"yardhop/pkg/mailer"
	"yardhop/pkg/queue"
	"yardhop/pkg/store"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) messages() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type workerEnv struct {
	app    *App
	store  *store.MemoryStore
	mailer *captureMailer
	redis  *redis.Client
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := store.NewMemoryStore()
	if err := mem.UpsertZipCodes([]domain.ZipCode{
		{Zip: "55401", City: "Minneapolis", State: "MN", Lat: 44.9778, Lng: -93.2650},
	}); err != nil {
		t.Fatalf("seed zips: %v", err)
	}

	capture := &captureMailer{}
	worker, err := New(Config{
		Store:       mem,
		RedisClient: client,
		Mailer:      capture,
		QueueName:   "test:digest:jobs",
		SiteBaseURL: "https://yardhop.test",
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return &workerEnv{app: worker, store: mem, mailer: capture, redis: client}
}

func (e *workerEnv) seedRecipient(t *testing.T, id, email string, optIn bool) {
	t.Helper()
	now := time.Now().UTC()
	if err := e.store.SaveUser(domain.User{
		ID:        id,
		Email:     email,
		Role:      domain.RoleUser,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := e.store.SaveProfile(domain.Profile{
		UserID:      id,
		DisplayName: "Pat",
		HomeLat:     44.9778,
		HomeLng:     -93.2650,
		DigestOptIn: optIn,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func (e *workerEnv) seedListedSale(t *testing.T, id, ownerID, title string, views int64) domain.Sale {
	t.Helper()
	now := time.Now().UTC()
	sale := domain.Sale{
		ID:         id,
		OwnerID:    ownerID,
		Title:      title,
		Zip:        "55401",
		Lat:        44.9778,
		Lng:        -93.2650,
		StartsAt:   now.Add(24 * time.Hour),
		EndsAt:     now.Add(30 * time.Hour),
		Status:     domain.SalePublished,
		Moderation: domain.ModerationVisible,
		ViewCount:  views,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.SaveSale(sale); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	return sale
}

func thisWeekJob(recipientID string) queue.DigestJob {
	return queue.DigestJob{
		ID:          "job-" + recipientID,
		RecipientID: recipientID,
		WeekKey:     digest.WeekKey(time.Now().UTC()),
	}
}

func TestDigestJobSendsEmailAndMarksWeek(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedRecipient(t, "buyer-1", "pat@example.com", true)
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 9)

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-1")); err != nil {
		t.Fatalf("process digest job: %v", err)
	}

	msgs := env.mailer.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.To != "pat@example.com" {
		t.Fatalf("recipient: got %q", msg.To)
	}
	if msg.Subject != "A yard sale near you this week" {
		t.Fatalf("subject: got %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "Garage Cleanout") {
		t.Fatalf("html body is missing the sale title: %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "https://yardhop.test/sales/sale-1") {
		t.Fatalf("html body is missing the sale link: %q", msg.HTML)
	}
	if !strings.Contains(msg.Text, "Garage Cleanout") {
		t.Fatalf("text body is missing the sale title: %q", msg.Text)
	}

	profile, ok, err := env.store.GetProfile("buyer-1")
	if err != nil || !ok {
		t.Fatalf("reload profile: ok=%v err=%v", ok, err)
	}
	if profile.LastDigestAt.IsZero() {
		t.Fatalf("expected LastDigestAt to be set after a send")
	}
}

func TestDigestJobAcksRedeliveryOfSentWeek(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedRecipient(t, "buyer-1", "pat@example.com", true)
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)
	if err := env.store.SetLastDigestAt("buyer-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-1")); err != nil {
		t.Fatalf("redelivered job should ack cleanly: %v", err)
	}
	if got := len(env.mailer.messages()); got != 0 {
		t.Fatalf("redelivery sent %d messages, want 0", got)
	}
}

func TestDigestJobSkipsIneligibleRecipients(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)

	env.seedRecipient(t, "opted-out", "out@example.com", false)

	env.seedRecipient(t, "banned", "banned@example.com", true)
	if err := env.store.SetUserStatus("banned", domain.StatusDisabled); err != nil {
		t.Fatalf("disable user: %v", err)
	}

	for _, id := range []string{"opted-out", "banned", "never-signed-up"} {
		if err := env.app.processDigestJob(context.Background(), thisWeekJob(id)); err != nil {
			t.Fatalf("job for %s should ack without error: %v", id, err)
		}
	}
	if got := len(env.mailer.messages()); got != 0 {
		t.Fatalf("ineligible recipients received %d messages, want 0", got)
	}
}

func TestDigestJobQuietWeekStillMarksRecipient(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedRecipient(t, "buyer-1", "pat@example.com", true)

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-1")); err != nil {
		t.Fatalf("quiet week: %v", err)
	}
	if got := len(env.mailer.messages()); got != 0 {
		t.Fatalf("quiet week sent %d messages, want 0", got)
	}
	profile, _, err := env.store.GetProfile("buyer-1")
	if err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if profile.LastDigestAt.IsZero() {
		t.Fatalf("quiet week should still record the digest timestamp")
	}
}

func TestDigestJobMailerFailureRequeues(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedRecipient(t, "buyer-1", "pat@example.com", true)
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)
	env.mailer.err = errors.New("smtp down")

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-1")); err == nil {
		t.Fatalf("expected an error so the queue retries the job")
	}
	profile, _, err := env.store.GetProfile("buyer-1")
	if err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if !profile.LastDigestAt.IsZero() {
		t.Fatalf("failed send must not mark the week as digested")
	}
}

func TestDigestJobFallsBackToHomeZip(t *testing.T) {
	env := newWorkerEnv(t)
	now := time.Now().UTC()
	if err := env.store.SaveUser(domain.User{
		ID: "buyer-zip", Email: "zip@example.com", Role: domain.RoleUser,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := env.store.SaveProfile(domain.Profile{
		UserID: "buyer-zip", HomeZip: "55401", DigestOptIn: true, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-zip")); err != nil {
		t.Fatalf("process digest job: %v", err)
	}
	if got := len(env.mailer.messages()); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
}

func TestDigestJobSkipsRecipientWithoutHome(t *testing.T) {
	env := newWorkerEnv(t)
	now := time.Now().UTC()
	if err := env.store.SaveUser(domain.User{
		ID: "nowhere", Email: "nowhere@example.com", Role: domain.RoleUser,
		Status: domain.StatusActive, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := env.store.SaveProfile(domain.Profile{
		UserID: "nowhere", DigestOptIn: true, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("nowhere")); err != nil {
		t.Fatalf("job without a home point should ack: %v", err)
	}
	if got := len(env.mailer.messages()); got != 0 {
		t.Fatalf("sent %d messages, want 0", got)
	}
	// The week stays unmarked so a later schedule can try again once the
	// recipient sets a home location.
	profile, _, err := env.store.GetProfile("nowhere")
	if err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if !profile.LastDigestAt.IsZero() {
		t.Fatalf("missing home location should not consume the week")
	}
}

func TestDigestJobExcludesRecipientsOwnSales(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedRecipient(t, "buyer-1", "pat@example.com", true)
	env.seedListedSale(t, "sale-own", "buyer-1", "My Own Sale", 50)
	env.seedListedSale(t, "sale-other", "seller-1", "Neighbor Sale", 1)

	if err := env.app.processDigestJob(context.Background(), thisWeekJob("buyer-1")); err != nil {
		t.Fatalf("process digest job: %v", err)
	}
	msgs := env.mailer.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if strings.Contains(msgs[0].HTML, "My Own Sale") {
		t.Fatalf("digest included the recipient's own sale")
	}
	if !strings.Contains(msgs[0].HTML, "Neighbor Sale") {
		t.Fatalf("digest is missing the neighbor's sale")
	}
}

func TestSweepPromotionsExpiresLapsed(t *testing.T) {
	env := newWorkerEnv(t)
	now := time.Now().UTC()

	lapsedSale := env.seedListedSale(t, "sale-lapsed", "seller-1", "Lapsed", 0)
	if err := env.store.SetPromotedUntil(lapsedSale.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("set promoted until: %v", err)
	}
	if err := env.store.SavePromotion(domain.Promotion{
		ID: "promo-lapsed", SaleID: lapsedSale.ID, BuyerID: "seller-1",
		Status: domain.PromotionActive, AmountCents: 499, Currency: "usd",
		StartsAt: now.Add(-8 * 24 * time.Hour), EndsAt: now.Add(-time.Hour),
		CreatedAt: now.Add(-8 * 24 * time.Hour), UpdatedAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	// This sale was re-promoted, so the lapsed promotion must not clear
	// the newer boost.
	renewedSale := env.seedListedSale(t, "sale-renewed", "seller-2", "Renewed", 0)
	if err := env.store.SetPromotedUntil(renewedSale.ID, now.Add(6*24*time.Hour)); err != nil {
		t.Fatalf("set promoted until: %v", err)
	}
	if err := env.store.SavePromotion(domain.Promotion{
		ID: "promo-renewed-old", SaleID: renewedSale.ID, BuyerID: "seller-2",
		Status: domain.PromotionActive, AmountCents: 499, Currency: "usd",
		StartsAt: now.Add(-8 * 24 * time.Hour), EndsAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-8 * 24 * time.Hour), UpdatedAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	expired, err := env.app.SweepPromotions(context.Background())
	if err != nil {
		t.Fatalf("sweep promotions: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expired %d promotions, want 2", expired)
	}

	promo, _, err := env.store.GetPromotion("promo-lapsed")
	if err != nil {
		t.Fatalf("reload promotion: %v", err)
	}
	if promo.Status != domain.PromotionExpired {
		t.Fatalf("promotion status: got %q, want expired", promo.Status)
	}

	got, _, err := env.store.GetSale(lapsedSale.ID)
	if err != nil {
		t.Fatalf("reload sale: %v", err)
	}
	if !got.PromotedUntil.IsZero() {
		t.Fatalf("lapsed sale should lose its boost, still %v", got.PromotedUntil)
	}

	kept, _, err := env.store.GetSale(renewedSale.ID)
	if err != nil {
		t.Fatalf("reload sale: %v", err)
	}
	if kept.PromotedUntil.IsZero() {
		t.Fatalf("renewed sale lost its active boost")
	}

	// A second sweep finds nothing left to expire.
	expired, err = env.app.SweepPromotions(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("second sweep expired %d promotions, want 0", expired)
	}
}

func TestFlushViewCountsDrainsIntoStore(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedListedSale(t, "sale-1", "seller-1", "Garage Cleanout", 0)

	ctx := context.Background()
	counter := viewcount.NewCounter(env.redis)
	for i := 0; i < 3; i++ {
		if err := counter.Bump(ctx, "sale-1"); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}
	// A counter for a sale that was deleted in the meantime drains too.
	if err := counter.Bump(ctx, "sale-gone"); err != nil {
		t.Fatalf("bump: %v", err)
	}

	flushed, err := env.app.FlushViewCounts(ctx)
	if err != nil {
		t.Fatalf("flush view counts: %v", err)
	}
	if flushed != 4 {
		t.Fatalf("flushed %d views, want 4", flushed)
	}

	sale, _, err := env.store.GetSale("sale-1")
	if err != nil {
		t.Fatalf("reload sale: %v", err)
	}
	if sale.ViewCount != 3 {
		t.Fatalf("view count: got %d, want 3", sale.ViewCount)
	}

	flushed, err = env.app.FlushViewCounts(ctx)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("second flush moved %d views, want 0", flushed)
	}
}

func TestNewRequiresBackends(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("New without a store or database URL should fail")
	}

	mem := store.NewMemoryStore()
	if _, err := New(Config{Store: mem}); err == nil {
		t.Fatalf("New without redis should fail to build the digest queue")
	}
}
