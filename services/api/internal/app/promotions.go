package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"yardhop/internal/util"
	"yardhop/pkg/domain"
	"yardhop/pkg/payments"
)

// PromoteSale opens a checkout session for a time-boxed visibility boost.
// The promotion is stored pending and flips to active when the provider
// confirms payment through the webhook.
func (a *App) PromoteSale(ctx context.Context, user domain.User, saleID string) (domain.Promotion, string, error) {
	if a.payments == nil {
		return domain.Promotion{}, "", errConflict("payments are not configured")
	}
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Promotion{}, "", err
	}
	if sale.Status != domain.SalePublished {
		return domain.Promotion{}, "", errConflict("only published sales can be promoted")
	}
	if sale.Moderation == domain.ModerationHidden {
		return domain.Promotion{}, "", errConflict("hidden sales cannot be promoted")
	}
	now := time.Now().UTC()
	if sale.Promoted(now) {
		return domain.Promotion{}, "", errConflict("sale already has an active promotion")
	}
	promo := domain.Promotion{
		ID:          util.NewID(),
		SaleID:      sale.ID,
		BuyerID:     user.ID,
		Status:      domain.PromotionPending,
		AmountCents: a.promotionPriceCents,
		Currency:    a.promotionCurrency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SavePromotion(promo); err != nil {
		return domain.Promotion{}, "", fmt.Errorf("save promotion: %w", err)
	}
	checkout, err := a.payments.CreateCheckoutSession(ctx, payments.CheckoutParams{
		Reference:   promo.ID,
		ProductName: fmt.Sprintf("Promoted sale: %s", sale.Title),
		AmountCents: promo.AmountCents,
		Currency:    promo.Currency,
		SuccessURL:  a.checkoutSuccessURL,
		CancelURL:   a.checkoutCancelURL,
	})
	if err != nil {
		promo.Status = domain.PromotionCanceled
		promo.UpdatedAt = time.Now().UTC()
		if saveErr := a.store.SavePromotion(promo); saveErr != nil {
			slog.Warn("promotion cancel after checkout failure did not stick", "promotion_id", promo.ID, "error", saveErr)
		}
		return domain.Promotion{}, "", fmt.Errorf("create checkout session: %w", err)
	}
	promo.SessionID = checkout.ID
	promo.UpdatedAt = time.Now().UTC()
	if err := a.store.SavePromotion(promo); err != nil {
		return domain.Promotion{}, "", fmt.Errorf("save promotion session: %w", err)
	}
	return promo, checkout.URL, nil
}

// GetSalePromotion returns the newest promotion on a sale the caller owns.
func (a *App) GetSalePromotion(ctx context.Context, user domain.User, saleID string) (domain.Promotion, error) {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Promotion{}, err
	}
	promos, err := a.store.ListPromotionsBySale(sale.ID)
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("list promotions: %w", err)
	}
	if len(promos) == 0 {
		return domain.Promotion{}, errNotFound("no promotion for this sale")
	}
	return promos[0], nil
}

// ProcessPaymentWebhook verifies and applies one provider event. Events are
// deduplicated by provider id, applied, and then recorded in the ledger, so
// a crash between apply and record replays into an idempotent apply.
func (a *App) ProcessPaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	now := time.Now().UTC()
	event, err := payments.ParseEvent(payload, signature, a.webhookSecret, payments.DefaultTolerance, now)
	if err != nil {
		if errors.Is(err, payments.ErrSignatureInvalid) || errors.Is(err, payments.ErrSignatureExpired) {
			return errInvalid("webhook signature rejected")
		}
		return errInvalid("malformed webhook payload")
	}
	if event.ID == "" {
		return errInvalid("webhook event id missing")
	}
	seen, err := a.store.HasPaymentEvent(event.ID)
	if err != nil {
		return fmt.Errorf("check event ledger: %w", err)
	}
	if seen {
		return nil
	}

	switch event.Type {
	case payments.EventCheckoutCompleted:
		if err := a.applyCheckoutCompleted(event, now); err != nil {
			return err
		}
	case payments.EventCheckoutExpired:
		if err := a.applyCheckoutExpired(event, now); err != nil {
			return err
		}
	default:
		slog.Debug("ignoring payment event", "type", event.Type, "event_id", event.ID)
	}

	if err := a.store.SavePaymentEvent(domain.PaymentEvent{
		ID:         util.NewID(),
		ProviderID: event.ID,
		Type:       event.Type,
		Payload:    payload,
		Processed:  true,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("record payment event: %w", err)
	}
	return nil
}

func (a *App) applyCheckoutCompleted(event payments.Event, now time.Time) error {
	promo, ok, err := a.promotionForEvent(event)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("payment event for unknown promotion", "event_id", event.ID)
		return nil
	}
	if promo.Status == domain.PromotionActive {
		return nil
	}
	promo.Status = domain.PromotionActive
	promo.StartsAt = now
	promo.EndsAt = now.Add(a.promotionDuration)
	promo.UpdatedAt = now
	if err := a.store.SavePromotion(promo); err != nil {
		return fmt.Errorf("activate promotion: %w", err)
	}
	if err := a.store.SetPromotedUntil(promo.SaleID, promo.EndsAt); err != nil {
		return fmt.Errorf("set promoted until: %w", err)
	}
	slog.Info("promotion activated", "promotion_id", promo.ID, "sale_id", promo.SaleID, "ends_at", promo.EndsAt)
	return nil
}

func (a *App) applyCheckoutExpired(event payments.Event, now time.Time) error {
	promo, ok, err := a.promotionForEvent(event)
	if err != nil {
		return err
	}
	if !ok || promo.Status != domain.PromotionPending {
		return nil
	}
	promo.Status = domain.PromotionCanceled
	promo.UpdatedAt = now
	if err := a.store.SavePromotion(promo); err != nil {
		return fmt.Errorf("cancel promotion: %w", err)
	}
	slog.Info("promotion checkout expired", "promotion_id", promo.ID, "sale_id", promo.SaleID)
	return nil
}

// promotionForEvent resolves the promotion a checkout event refers to,
// preferring the session id and falling back to the client reference.
func (a *App) promotionForEvent(event payments.Event) (domain.Promotion, bool, error) {
	session, err := event.Session()
	if err != nil {
		return domain.Promotion{}, false, errInvalid("malformed checkout session payload")
	}
	if session.ID != "" {
		promo, ok, err := a.store.GetPromotionBySession(session.ID)
		if err != nil {
			return domain.Promotion{}, false, fmt.Errorf("fetch promotion by session: %w", err)
		}
		if ok {
			return promo, true, nil
		}
	}
	if session.Reference != "" {
		promo, ok, err := a.store.GetPromotion(session.Reference)
		if err != nil {
			return domain.Promotion{}, false, fmt.Errorf("fetch promotion: %w", err)
		}
		if ok {
			return promo, true, nil
		}
	}
	return domain.Promotion{}, false, nil
}

// ReportInput is the abuse report payload.
type ReportInput struct {
	Reason  string `json:"reason" validate:"required,max=120"`
	Details string `json:"details" validate:"max=2000"`
}

// ReportSale files an abuse report against a sale for admins to review.
func (a *App) ReportSale(ctx context.Context, user domain.User, saleID string, input ReportInput) (domain.Report, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Report{}, errInvalid("invalid report payload").WithHint(validationHint(err))
	}
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("fetch sale: %w", err)
	}
	if !ok || !a.canViewSale(&user, sale) {
		return domain.Report{}, ErrSaleNotFound
	}
	if sale.OwnerID == user.ID {
		return domain.Report{}, errInvalid("you cannot report your own sale")
	}
	report := domain.Report{
		ID:         util.NewID(),
		SaleID:     sale.ID,
		ReporterID: user.ID,
		Reason:     strings.TrimSpace(input.Reason),
		Details:    stripHTML(input.Details),
		Status:     domain.ReportOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveReport(report); err != nil {
		return domain.Report{}, fmt.Errorf("save report: %w", err)
	}
	return report, nil
}
