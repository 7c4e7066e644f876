package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"yardhop/internal/util"
	"yardhop/pkg/domain"
)

// FavoriteSale marks a sale as a favorite of the caller. Repeating the call
// is a no-op.
func (a *App) FavoriteSale(ctx context.Context, user domain.User, saleID string) error {
	sale, ok, err := a.store.GetSale(saleID)
	if err != nil {
		return fmt.Errorf("fetch sale: %w", err)
	}
	if !ok || !a.canViewSale(&user, sale) {
		return ErrSaleNotFound
	}
	already, err := a.store.HasFavorite(user.ID, sale.ID)
	if err != nil {
		return fmt.Errorf("check favorite: %w", err)
	}
	if already {
		return nil
	}
	if err := a.store.SaveFavorite(domain.Favorite{
		UserID:    user.ID,
		SaleID:    sale.ID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save favorite: %w", err)
	}
	event := domain.AnalyticsEvent{
		ID:        util.NewID(),
		Kind:      domain.EventFavorite,
		SaleID:    sale.ID,
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveAnalyticsEvent(event); err != nil {
		slog.Warn("analytics event write failed", "kind", event.Kind, "error", err)
	}
	return nil
}

// UnfavoriteSale removes the favorite. Removing a favorite that does not
// exist is a no-op.
func (a *App) UnfavoriteSale(ctx context.Context, user domain.User, saleID string) error {
	if err := a.store.DeleteFavorite(user.ID, saleID); err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

// ListFavorites returns the caller's favorited sales, still-visible ones only.
func (a *App) ListFavorites(ctx context.Context, user domain.User) ([]domain.Sale, error) {
	sales, err := a.store.ListFavoriteSales(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return sales, nil
}

var draftKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// SaveDraftPayload upserts a JSON draft under the caller's key.
func (a *App) SaveDraftPayload(ctx context.Context, user domain.User, key string, payload []byte) (domain.Draft, error) {
	if !draftKeyPattern.MatchString(key) {
		return domain.Draft{}, errInvalid("invalid draft key").WithHint("letters, digits, - and _, up to 64 characters")
	}
	if !json.Valid(payload) {
		return domain.Draft{}, errInvalid("draft payload must be valid JSON")
	}
	draft := domain.Draft{
		OwnerID:   user.ID,
		Key:       key,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveDraft(draft); err != nil {
		return domain.Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return draft, nil
}

// GetDraft returns one draft of the caller.
func (a *App) GetDraft(ctx context.Context, user domain.User, key string) (domain.Draft, error) {
	draft, ok, err := a.store.GetDraft(user.ID, key)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("fetch draft: %w", err)
	}
	if !ok {
		return domain.Draft{}, ErrDraftNotFound
	}
	return draft, nil
}

// ListDrafts returns every draft of the caller.
func (a *App) ListDrafts(ctx context.Context, user domain.User) ([]domain.Draft, error) {
	drafts, err := a.store.ListDraftsByOwner(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	return drafts, nil
}

// DeleteDraft removes one draft of the caller.
func (a *App) DeleteDraft(ctx context.Context, user domain.User, key string) error {
	_, ok, err := a.store.GetDraft(user.ID, key)
	if err != nil {
		return fmt.Errorf("fetch draft: %w", err)
	}
	if !ok {
		return ErrDraftNotFound
	}
	if err := a.store.DeleteDraft(user.ID, key); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// PublishDraft materializes the draft payload into a published sale and
// deletes the draft. A payload that no longer validates leaves the draft
// in place so the author can fix it.
func (a *App) PublishDraft(ctx context.Context, user domain.User, key string) (domain.Sale, error) {
	draft, ok, err := a.store.GetDraft(user.ID, key)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("fetch draft: %w", err)
	}
	if !ok {
		return domain.Sale{}, ErrDraftNotFound
	}
	var input SaleInput
	if err := json.Unmarshal(draft.Payload, &input); err != nil {
		return domain.Sale{}, errInvalid("draft payload is not a sale").WithHint(err.Error())
	}
	sale, err := a.CreateSale(ctx, user, input)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := a.store.SetSaleStatus(sale.ID, domain.SalePublished); err != nil {
		return domain.Sale{}, fmt.Errorf("publish sale: %w", err)
	}
	sale.Status = domain.SalePublished
	if err := a.store.DeleteDraft(user.ID, key); err != nil {
		slog.Warn("draft cleanup after publish failed", "key", key, "error", err)
	}
	return sale, nil
}
