package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yardhop/pkg/digest"
	"yardhop/pkg/domain"
)

// JobResult summarizes one internal job run.
type JobResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// EnqueueWeeklyDigests queues one digest job per opted-in recipient for the
// current ISO week. Recipients already digested this week are skipped, so
// the scheduler can fire the endpoint more than once without double sends.
func (a *App) EnqueueWeeklyDigests(ctx context.Context) (JobResult, error) {
	if a.queue == nil {
		return JobResult{}, errConflict("digest queue is not configured")
	}
	recipients, err := a.store.ListDigestRecipients()
	if err != nil {
		return JobResult{}, fmt.Errorf("list digest recipients: %w", err)
	}
	weekKey := digest.WeekKey(time.Now().UTC())
	var res JobResult
	for _, profile := range recipients {
		if !profile.LastDigestAt.IsZero() && digest.WeekKey(profile.LastDigestAt) == weekKey {
			res.Skipped++
			continue
		}
		if _, err := a.queue.Enqueue(ctx, profile.UserID, weekKey); err != nil {
			slog.Warn("digest enqueue failed", "user_id", profile.UserID, "week", weekKey, "error", err)
			res.Skipped++
			continue
		}
		res.Processed++
	}
	slog.Info("weekly digest jobs enqueued", "week", weekKey, "enqueued", res.Processed, "skipped", res.Skipped)
	return res, nil
}

// ExpirePromotions marks lapsed promotions expired and clears the boost
// flag on their sales, unless a newer promotion still covers the sale.
func (a *App) ExpirePromotions(ctx context.Context) (JobResult, error) {
	now := time.Now().UTC()
	lapsed, err := a.store.ListLapsedPromotions(now)
	if err != nil {
		return JobResult{}, fmt.Errorf("list lapsed promotions: %w", err)
	}
	var res JobResult
	for _, promo := range lapsed {
		promo.Status = domain.PromotionExpired
		promo.UpdatedAt = now
		if err := a.store.SavePromotion(promo); err != nil {
			slog.Warn("promotion expiry did not stick", "promotion_id", promo.ID, "error", err)
			res.Skipped++
			continue
		}
		sale, ok, err := a.store.GetSale(promo.SaleID)
		if err != nil {
			slog.Warn("sale fetch during promotion expiry failed", "sale_id", promo.SaleID, "error", err)
			res.Skipped++
			continue
		}
		if ok && !sale.PromotedUntil.After(now) && !sale.PromotedUntil.IsZero() {
			if err := a.store.SetPromotedUntil(sale.ID, time.Time{}); err != nil {
				slog.Warn("clearing promoted flag failed", "sale_id", sale.ID, "error", err)
				res.Skipped++
				continue
			}
		}
		res.Processed++
	}
	if res.Processed > 0 || res.Skipped > 0 {
		slog.Info("promotions expired", "expired", res.Processed, "skipped", res.Skipped)
	}
	return res, nil
}
