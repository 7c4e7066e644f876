package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"yardhop/internal/util"
	"yardhop/pkg/domain"
)

// ItemInput creates one item on a sale.
type ItemInput struct {
	Name       string `json:"name" validate:"required,max=120"`
	Category   string `json:"category" validate:"max=60"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
}

// UpdateItemInput patches an item. Nil fields stay untouched.
type UpdateItemInput struct {
	Name       *string `json:"name" validate:"omitempty,max=120"`
	Category   *string `json:"category" validate:"omitempty,max=60"`
	PriceCents *int64  `json:"priceCents" validate:"omitempty,gte=0"`
	Sold       *bool   `json:"sold"`
	Position   *int    `json:"position" validate:"omitempty,gte=0"`
}

// AddItem appends an item to a sale the caller owns.
func (a *App) AddItem(ctx context.Context, user domain.User, saleID string, input ItemInput) (domain.Item, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Item{}, errInvalid("invalid item payload").WithHint(validationHint(err))
	}
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Item{}, err
	}
	name := stripHTML(input.Name)
	if name == "" {
		return domain.Item{}, errInvalid("item name required")
	}
	existing, err := a.store.ListItemsBySale(sale.ID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("list items: %w", err)
	}
	item := domain.Item{
		ID:         util.NewID(),
		SaleID:     sale.ID,
		Name:       name,
		Category:   strings.ToLower(strings.TrimSpace(input.Category)),
		PriceCents: input.PriceCents,
		Position:   len(existing),
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveItem(item); err != nil {
		return domain.Item{}, fmt.Errorf("save item: %w", err)
	}
	return item, nil
}

// UpdateItem patches an item on a sale the caller owns.
func (a *App) UpdateItem(ctx context.Context, user domain.User, saleID, itemID string, input UpdateItemInput) (domain.Item, error) {
	if err := a.validate.Struct(input); err != nil {
		return domain.Item{}, errInvalid("invalid item payload").WithHint(validationHint(err))
	}
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Item{}, err
	}
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("fetch item: %w", err)
	}
	if !ok || item.SaleID != sale.ID {
		return domain.Item{}, ErrItemNotFound
	}
	if input.Name != nil {
		name := stripHTML(*input.Name)
		if name == "" {
			return domain.Item{}, errInvalid("item name required")
		}
		item.Name = name
	}
	if input.Category != nil {
		item.Category = strings.ToLower(strings.TrimSpace(*input.Category))
	}
	if input.PriceCents != nil {
		item.PriceCents = *input.PriceCents
	}
	if input.Sold != nil {
		item.Sold = *input.Sold
	}
	if input.Position != nil {
		item.Position = *input.Position
	}
	if err := a.store.SaveItem(item); err != nil {
		return domain.Item{}, fmt.Errorf("save item: %w", err)
	}
	return item, nil
}

// DeleteItem removes an item from a sale the caller owns.
func (a *App) DeleteItem(ctx context.Context, user domain.User, saleID, itemID string) error {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return err
	}
	item, ok, err := a.store.GetItem(itemID)
	if err != nil {
		return fmt.Errorf("fetch item: %w", err)
	}
	if !ok || item.SaleID != sale.ID {
		return ErrItemNotFound
	}
	if err := a.store.DeleteItem(item.ID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

var photoContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// UploadPhoto stores one photo blob under the sale's prefix and records the
// row. The handler enforces the per-request size cap; this enforces the
// per-sale count cap.
func (a *App) UploadPhoto(ctx context.Context, user domain.User, saleID, filename string, r io.Reader, size int64) (domain.Photo, error) {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return domain.Photo{}, err
	}
	if size <= 0 {
		return domain.Photo{}, errInvalid("empty upload")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := photoContentTypes[ext]
	if !ok {
		return domain.Photo{}, errInvalid("unsupported photo type").WithHint("use jpg, png, webp, or gif")
	}
	count, err := a.store.CountPhotosBySale(sale.ID)
	if err != nil {
		return domain.Photo{}, fmt.Errorf("count photos: %w", err)
	}
	if count >= a.maxPhotosPerSale {
		return domain.Photo{}, errConflict(fmt.Sprintf("photo limit of %d reached", a.maxPhotosPerSale))
	}
	key := fmt.Sprintf("sales/%s/%s%s", sale.ID, uuid.NewString(), ext)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Photo{}, fmt.Errorf("store photo: %w", err)
	}
	photo := domain.Photo{
		ID:          util.NewID(),
		SaleID:      sale.ID,
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   size,
		Position:    count,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.SavePhoto(photo); err != nil {
		// Roll back the blob; the row is the source of truth.
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			return domain.Photo{}, fmt.Errorf("save photo row: %w (blob cleanup also failed: %v)", err, delErr)
		}
		return domain.Photo{}, fmt.Errorf("save photo row: %w", err)
	}
	return photo, nil
}

// DeletePhoto removes the row and the blob.
func (a *App) DeletePhoto(ctx context.Context, user domain.User, saleID, photoID string) error {
	sale, err := a.ownedSale(user, saleID)
	if err != nil {
		return err
	}
	photo, ok, err := a.store.GetPhoto(photoID)
	if err != nil {
		return fmt.Errorf("fetch photo: %w", err)
	}
	if !ok || photo.SaleID != sale.ID {
		return ErrPhotoNotFound
	}
	if err := a.store.DeletePhoto(photo.ID); err != nil {
		return fmt.Errorf("delete photo row: %w", err)
	}
	if err := a.objects.Delete(ctx, photo.StorageKey); err != nil {
		return fmt.Errorf("delete photo blob: %w", err)
	}
	return nil
}
