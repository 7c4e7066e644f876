package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

const migrateLockID int64 = 84518451

const defaultSearchLimit = 200

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race each other on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProfileModel{},
			&SaleModel{},
			&ItemModel{},
			&PhotoModel{},
			&FavoriteModel{},
			&DraftModel{},
			&PromotionModel{},
			&PaymentEventModel{},
			&ReportModel{},
			&AnalyticsEventModel{},
			&ZipCodeModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM item_models i
				WHERE NOT EXISTS (SELECT 1 FROM sale_models s WHERE s.id = i.sale_id);
				DELETE FROM photo_models p
				WHERE NOT EXISTS (SELECT 1 FROM sale_models s WHERE s.id = p.sale_id);
				DELETE FROM favorite_models f
				WHERE NOT EXISTS (SELECT 1 FROM sale_models s WHERE s.id = f.sale_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'item_models'
					AND constraint_name = 'item_models_sale_id_fkey'
				) THEN
					ALTER TABLE item_models
					ADD CONSTRAINT item_models_sale_id_fkey
					FOREIGN KEY (sale_id) REFERENCES sale_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'photo_models'
					AND constraint_name = 'photo_models_sale_id_fkey'
				) THEN
					ALTER TABLE photo_models
					ADD CONSTRAINT photo_models_sale_id_fkey
					FOREIGN KEY (sale_id) REFERENCES sale_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'favorite_models'
					AND constraint_name = 'favorite_models_sale_id_fkey'
				) THEN
					ALTER TABLE favorite_models
					ADD CONSTRAINT favorite_models_sale_id_fkey
					FOREIGN KEY (sale_id) REFERENCES sale_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure sale foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping reports whether the database answers.
func (s *GormStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "role", "status", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SetUserStatus enables or disables an account.
func (s *GormStore) SetUserStatus(id string, status domain.UserStatus) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SaveProfile creates or updates a user profile.
func (s *GormStore) SaveProfile(p domain.Profile) error {
	model := profileToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "home_zip", "home_lat", "home_lng", "digest_opt_in", "updated_at"}),
	}).Create(&model).Error
}

// GetProfile returns a user's profile.
func (s *GormStore) GetProfile(userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// ListDigestRecipients returns profiles opted into the weekly digest that
// have a usable home location.
func (s *GormStore) ListDigestRecipients() ([]domain.Profile, error) {
	var models []ProfileModel
	if err := s.db.
		Where("digest_opt_in = ? AND (home_lat <> 0 OR home_lng <> 0)", true).
		Order("user_id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Profile, 0, len(models))
	for _, m := range models {
		res = append(res, profileFromModel(m))
	}
	return res, nil
}

// SetLastDigestAt records when a recipient last received a digest.
func (s *GormStore) SetLastDigestAt(userID string, at time.Time) error {
	return s.db.Model(&ProfileModel{}).
		Where("user_id = ?", userID).
		Update("last_digest_at", at.UTC()).Error
}

// SaveSale stores or updates a sale.
func (s *GormStore) SaveSale(sale domain.Sale) error {
	model := saleToModel(sale)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "address", "zip", "lat", "lng",
			"starts_at", "ends_at", "status", "moderation", "promoted_until", "updated_at",
		}),
	}).Create(&model).Error
}

// GetSale retrieves a sale.
func (s *GormStore) GetSale(id string) (domain.Sale, bool, error) {
	var model SaleModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Sale{}, false, nil
		}
		return domain.Sale{}, false, err
	}
	return saleFromModel(model), true, nil
}

// DeleteSale removes a sale with its items, photos, favorites, and reports.
// Promotions and payment events stay behind as the purchase record.
func (s *GormStore) DeleteSale(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ItemModel{}, "sale_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&PhotoModel{}, "sale_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FavoriteModel{}, "sale_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ReportModel{}, "sale_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&SaleModel{}, "id = ?", id).Error
	})
}

// ListSalesByOwner returns every sale belonging to one user.
func (s *GormStore) ListSalesByOwner(ownerID string) ([]domain.Sale, error) {
	var models []SaleModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return salesFromModels(models), nil
}

// ListAllSales pages through every sale regardless of state, for admin use.
func (s *GormStore) ListAllSales(limit, offset int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if offset < 0 {
		offset = 0
	}
	var models []SaleModel
	if err := s.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	return salesFromModels(models), nil
}

// SearchSales returns published, visible sales matching the filter,
// soonest first.
func (s *GormStore) SearchSales(filter SaleFilter) ([]domain.Sale, error) {
	tx := s.db.Model(&SaleModel{}).
		Where("status = ? AND moderation = ?", string(domain.SalePublished), string(domain.ModerationVisible))

	if filter.BBox != nil {
		b := *filter.BBox
		tx = tx.Where("lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?", b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		tx = tx.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	if c := strings.TrimSpace(filter.Category); c != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM item_models i WHERE i.sale_id = sale_models.id AND i.category = ?)", c)
	}
	if !filter.StartsAfter.IsZero() {
		tx = tx.Where("starts_at >= ?", filter.StartsAfter.UTC())
	}
	if !filter.EndsBefore.IsZero() {
		tx = tx.Where("ends_at <= ?", filter.EndsBefore.UTC())
	}
	if !filter.PromotedAt.IsZero() {
		tx = tx.Where("promoted_until > ?", filter.PromotedAt.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var models []SaleModel
	if err := tx.Order("starts_at ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return salesFromModels(models), nil
}

// SetSaleStatus moves a sale through its lifecycle.
func (s *GormStore) SetSaleStatus(id string, status domain.SaleStatus) error {
	return s.db.Model(&SaleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetSaleModeration hides or restores a sale.
func (s *GormStore) SetSaleModeration(id string, m domain.Moderation) error {
	return s.db.Model(&SaleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"moderation": string(m),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SetPromotedUntil stamps the active boost horizon on a sale. A zero time
// clears the boost.
func (s *GormStore) SetPromotedUntil(id string, until time.Time) error {
	return s.db.Model(&SaleModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"promoted_until": until.UTC(),
			"updated_at":     time.Now().UTC(),
		}).Error
}

// AddSaleViews folds accumulated view counters into sales in one transaction.
func (s *GormStore) AddSaleViews(counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for id, n := range counts {
			if n <= 0 {
				continue
			}
			if err := tx.Model(&SaleModel{}).
				Where("id = ?", id).
				UpdateColumn("view_count", gorm.Expr("view_count + ?", n)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDigestCandidates returns published, visible sales inside the box that
// have not yet ended, busiest first. Databases migrated before view counts
// existed lack the column, so the query falls back to recency ordering.
func (s *GormStore) ListDigestCandidates(box geo.BBox, now time.Time, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	base := func() *gorm.DB {
		return s.db.Model(&SaleModel{}).
			Where("status = ? AND moderation = ?", string(domain.SalePublished), string(domain.ModerationVisible)).
			Where("lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?", box.MinLat, box.MaxLat, box.MinLng, box.MaxLng).
			Where("ends_at >= ?", now.UTC()).
			Limit(limit)
	}

	var models []SaleModel
	err := base().Order("view_count DESC, created_at DESC").Find(&models).Error
	if err != nil && strings.Contains(err.Error(), "view_count") {
		models = models[:0]
		err = base().Order("created_at DESC").Find(&models).Error
	}
	if err != nil {
		return nil, err
	}
	return salesFromModels(models), nil
}

// SaleCount returns the number of sales.
func (s *GormStore) SaleCount() (int, error) {
	var count int64
	if err := s.db.Model(&SaleModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveItem stores or updates an item.
func (s *GormStore) SaveItem(item domain.Item) error {
	model := itemToModel(item)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "price_cents", "sold", "position"}),
	}).Create(&model).Error
}

// GetItem retrieves an item.
func (s *GormStore) GetItem(id string) (domain.Item, bool, error) {
	var model ItemModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// ListItemsBySale returns a sale's items in display order.
func (s *GormStore) ListItemsBySale(saleID string) ([]domain.Item, error) {
	var models []ItemModel
	if err := s.db.Where("sale_id = ?", saleID).Order("position ASC, created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Item, 0, len(models))
	for _, m := range models {
		res = append(res, itemFromModel(m))
	}
	return res, nil
}

// DeleteItem removes an item.
func (s *GormStore) DeleteItem(id string) error {
	return s.db.Delete(&ItemModel{}, "id = ?", id).Error
}

// SavePhoto records photo metadata; the bytes live in object storage.
func (s *GormStore) SavePhoto(photo domain.Photo) error {
	model := photoToModel(photo)
	return s.db.Create(&model).Error
}

// GetPhoto retrieves photo metadata.
func (s *GormStore) GetPhoto(id string) (domain.Photo, bool, error) {
	var model PhotoModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Photo{}, false, nil
		}
		return domain.Photo{}, false, err
	}
	return photoFromModel(model), true, nil
}

// ListPhotosBySale returns a sale's photos in display order.
func (s *GormStore) ListPhotosBySale(saleID string) ([]domain.Photo, error) {
	var models []PhotoModel
	if err := s.db.Where("sale_id = ?", saleID).Order("position ASC, created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Photo, 0, len(models))
	for _, m := range models {
		res = append(res, photoFromModel(m))
	}
	return res, nil
}

// CountPhotosBySale returns the number of photos attached to a sale.
func (s *GormStore) CountPhotosBySale(saleID string) (int, error) {
	var count int64
	if err := s.db.Model(&PhotoModel{}).Where("sale_id = ?", saleID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeletePhoto removes photo metadata.
func (s *GormStore) DeletePhoto(id string) error {
	return s.db.Delete(&PhotoModel{}, "id = ?", id).Error
}

// SaveFavorite records a favorite. Saving twice is a no-op.
func (s *GormStore) SaveFavorite(f domain.Favorite) error {
	model := favoriteToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "sale_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// DeleteFavorite removes a favorite.
func (s *GormStore) DeleteFavorite(userID, saleID string) error {
	return s.db.Delete(&FavoriteModel{}, "user_id = ? AND sale_id = ?", userID, saleID).Error
}

// HasFavorite checks whether the user favorited the sale.
func (s *GormStore) HasFavorite(userID, saleID string) (bool, error) {
	var count int64
	if err := s.db.Model(&FavoriteModel{}).
		Where("user_id = ? AND sale_id = ?", userID, saleID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListFavoriteSales returns the sales a user favorited, most recently
// favorited first. Hidden sales stay out of the result.
func (s *GormStore) ListFavoriteSales(userID string) ([]domain.Sale, error) {
	var models []SaleModel
	if err := s.db.Model(&SaleModel{}).
		Joins("JOIN favorite_models f ON f.sale_id = sale_models.id").
		Where("f.user_id = ? AND sale_models.moderation = ?", userID, string(domain.ModerationVisible)).
		Order("f.created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return salesFromModels(models), nil
}

// SaveDraft creates or replaces a draft under the owner's key.
func (s *GormStore) SaveDraft(d domain.Draft) error {
	model := draftToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&model).Error
}

// GetDraft retrieves one draft by owner and key.
func (s *GormStore) GetDraft(ownerID, key string) (domain.Draft, bool, error) {
	var model DraftModel
	if err := s.db.First(&model, "owner_id = ? AND key = ?", ownerID, key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Draft{}, false, nil
		}
		return domain.Draft{}, false, err
	}
	return draftFromModel(model), true, nil
}

// ListDraftsByOwner returns all drafts of one user, newest first.
func (s *GormStore) ListDraftsByOwner(ownerID string) ([]domain.Draft, error) {
	var models []DraftModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Draft, 0, len(models))
	for _, m := range models {
		res = append(res, draftFromModel(m))
	}
	return res, nil
}

// DeleteDraft removes one draft.
func (s *GormStore) DeleteDraft(ownerID, key string) error {
	return s.db.Delete(&DraftModel{}, "owner_id = ? AND key = ?", ownerID, key).Error
}

// SavePromotion stores or updates a promotion.
func (s *GormStore) SavePromotion(p domain.Promotion) error {
	model := promotionToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "amount_cents", "currency", "starts_at", "ends_at", "updated_at"}),
	}).Create(&model).Error
}

// GetPromotion retrieves a promotion.
func (s *GormStore) GetPromotion(id string) (domain.Promotion, bool, error) {
	var model PromotionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Promotion{}, false, nil
		}
		return domain.Promotion{}, false, err
	}
	return promotionFromModel(model), true, nil
}

// GetPromotionBySession finds the promotion created for a checkout session.
func (s *GormStore) GetPromotionBySession(sessionID string) (domain.Promotion, bool, error) {
	var model PromotionModel
	if err := s.db.First(&model, "session_id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Promotion{}, false, nil
		}
		return domain.Promotion{}, false, err
	}
	return promotionFromModel(model), true, nil
}

// ListPromotionsBySale returns a sale's promotions, newest first.
func (s *GormStore) ListPromotionsBySale(saleID string) ([]domain.Promotion, error) {
	var models []PromotionModel
	if err := s.db.Where("sale_id = ?", saleID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Promotion, 0, len(models))
	for _, m := range models {
		res = append(res, promotionFromModel(m))
	}
	return res, nil
}

// ListLapsedPromotions returns active promotions whose window has passed.
func (s *GormStore) ListLapsedPromotions(now time.Time) ([]domain.Promotion, error) {
	var models []PromotionModel
	if err := s.db.
		Where("status = ? AND ends_at <= ?", string(domain.PromotionActive), now.UTC()).
		Order("ends_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Promotion, 0, len(models))
	for _, m := range models {
		res = append(res, promotionFromModel(m))
	}
	return res, nil
}

// SavePaymentEvent records a provider webhook delivery. Duplicate provider
// IDs are dropped silently so replayed webhooks stay idempotent.
func (s *GormStore) SavePaymentEvent(e domain.PaymentEvent) error {
	model := paymentEventToModel(e)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoNothing: true,
	}).Create(&model).Error
}

// HasPaymentEvent checks whether a provider event was already recorded.
func (s *GormStore) HasPaymentEvent(providerID string) (bool, error) {
	var count int64
	if err := s.db.Model(&PaymentEventModel{}).Where("provider_id = ?", providerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveReport stores or updates a report.
func (s *GormStore) SaveReport(r domain.Report) error {
	model := reportToModel(r)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "resolved_by", "resolved_at"}),
	}).Create(&model).Error
}

// GetReport retrieves a report.
func (s *GormStore) GetReport(id string) (domain.Report, bool, error) {
	var model ReportModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Report{}, false, nil
		}
		return domain.Report{}, false, err
	}
	return reportFromModel(model), true, nil
}

// ListReportsByStatus returns reports in a given state, oldest first so the
// moderation queue is first-come first-served. An empty status returns all.
func (s *GormStore) ListReportsByStatus(status domain.ReportStatus) ([]domain.Report, error) {
	tx := s.db.Model(&ReportModel{}).Order("created_at ASC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var models []ReportModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Report, 0, len(models))
	for _, m := range models {
		res = append(res, reportFromModel(m))
	}
	return res, nil
}

// SaveAnalyticsEvent appends one analytics event.
func (s *GormStore) SaveAnalyticsEvent(e domain.AnalyticsEvent) error {
	model := analyticsEventToModel(e)
	return s.db.Create(&model).Error
}

// CountAnalyticsEvents counts events of one kind since a cutoff.
func (s *GormStore) CountAnalyticsEvents(kind string, since time.Time) (int64, error) {
	tx := s.db.Model(&AnalyticsEventModel{}).Where("kind = ?", kind)
	if !since.IsZero() {
		tx = tx.Where("created_at >= ?", since.UTC())
	}
	var count int64
	if err := tx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertZipCodes loads gazetteer rows in batches, replacing existing zips.
func (s *GormStore) UpsertZipCodes(rows []domain.ZipCode) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]ZipCodeModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, zipToModel(row))
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "zip"}},
		DoUpdates: clause.AssignmentColumns([]string{"city", "state", "lat", "lng"}),
	}).CreateInBatches(&models, 500).Error
}

// GetZipCode looks up one zip.
func (s *GormStore) GetZipCode(zip string) (domain.ZipCode, bool, error) {
	var model ZipCodeModel
	if err := s.db.First(&model, "zip = ?", zip).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ZipCode{}, false, nil
		}
		return domain.ZipCode{}, false, err
	}
	return zipFromModel(model), true, nil
}

// ZipCodeCount returns the number of gazetteer rows.
func (s *GormStore) ZipCodeCount() (int, error) {
	var count int64
	if err := s.db.Model(&ZipCodeModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func salesFromModels(models []SaleModel) []domain.Sale {
	res := make([]domain.Sale, 0, len(models))
	for _, m := range models {
		res = append(res, saleFromModel(m))
	}
	return res
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		HomeZip:      p.HomeZip,
		HomeLat:      p.HomeLat,
		HomeLng:      p.HomeLng,
		DigestOptIn:  p.DigestOptIn,
		LastDigestAt: p.LastDigestAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		UserID:       m.UserID,
		DisplayName:  m.DisplayName,
		HomeZip:      m.HomeZip,
		HomeLat:      m.HomeLat,
		HomeLng:      m.HomeLng,
		DigestOptIn:  m.DigestOptIn,
		LastDigestAt: m.LastDigestAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func saleToModel(s domain.Sale) SaleModel {
	return SaleModel{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		Title:         s.Title,
		Description:   s.Description,
		Address:       s.Address,
		Zip:           s.Zip,
		Lat:           s.Lat,
		Lng:           s.Lng,
		StartsAt:      s.StartsAt,
		EndsAt:        s.EndsAt,
		Status:        string(s.Status),
		Moderation:    string(s.Moderation),
		ViewCount:     s.ViewCount,
		PromotedUntil: s.PromotedUntil,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func saleFromModel(m SaleModel) domain.Sale {
	moderation := domain.Moderation(m.Moderation)
	if moderation == "" {
		moderation = domain.ModerationVisible
	}
	return domain.Sale{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Title:         m.Title,
		Description:   m.Description,
		Address:       m.Address,
		Zip:           m.Zip,
		Lat:           m.Lat,
		Lng:           m.Lng,
		StartsAt:      m.StartsAt,
		EndsAt:        m.EndsAt,
		Status:        domain.SaleStatus(m.Status),
		Moderation:    moderation,
		ViewCount:     m.ViewCount,
		PromotedUntil: m.PromotedUntil,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func itemToModel(i domain.Item) ItemModel {
	return ItemModel{
		ID:         i.ID,
		SaleID:     i.SaleID,
		Name:       i.Name,
		Category:   i.Category,
		PriceCents: i.PriceCents,
		Sold:       i.Sold,
		Position:   i.Position,
		CreatedAt:  i.CreatedAt,
	}
}

func itemFromModel(m ItemModel) domain.Item {
	return domain.Item{
		ID:         m.ID,
		SaleID:     m.SaleID,
		Name:       m.Name,
		Category:   m.Category,
		PriceCents: m.PriceCents,
		Sold:       m.Sold,
		Position:   m.Position,
		CreatedAt:  m.CreatedAt,
	}
}

func photoToModel(p domain.Photo) PhotoModel {
	return PhotoModel{
		ID:          p.ID,
		SaleID:      p.SaleID,
		StorageKey:  p.StorageKey,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		Position:    p.Position,
		CreatedAt:   p.CreatedAt,
	}
}

func photoFromModel(m PhotoModel) domain.Photo {
	return domain.Photo{
		ID:          m.ID,
		SaleID:      m.SaleID,
		StorageKey:  m.StorageKey,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		Position:    m.Position,
		CreatedAt:   m.CreatedAt,
	}
}

func favoriteToModel(f domain.Favorite) FavoriteModel {
	return FavoriteModel{
		UserID:    f.UserID,
		SaleID:    f.SaleID,
		CreatedAt: f.CreatedAt,
	}
}

func draftToModel(d domain.Draft) DraftModel {
	return DraftModel{
		OwnerID:   d.OwnerID,
		Key:       d.Key,
		Payload:   datatypes.JSON(d.Payload),
		UpdatedAt: d.UpdatedAt,
	}
}

func draftFromModel(m DraftModel) domain.Draft {
	return domain.Draft{
		OwnerID:   m.OwnerID,
		Key:       m.Key,
		Payload:   []byte(m.Payload),
		UpdatedAt: m.UpdatedAt,
	}
}

func promotionToModel(p domain.Promotion) PromotionModel {
	return PromotionModel{
		ID:          p.ID,
		SaleID:      p.SaleID,
		BuyerID:     p.BuyerID,
		SessionID:   p.SessionID,
		Status:      string(p.Status),
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func promotionFromModel(m PromotionModel) domain.Promotion {
	return domain.Promotion{
		ID:          m.ID,
		SaleID:      m.SaleID,
		BuyerID:     m.BuyerID,
		SessionID:   m.SessionID,
		Status:      domain.PromotionStatus(m.Status),
		AmountCents: m.AmountCents,
		Currency:    m.Currency,
		StartsAt:    m.StartsAt,
		EndsAt:      m.EndsAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func paymentEventToModel(e domain.PaymentEvent) PaymentEventModel {
	return PaymentEventModel{
		ID:         e.ID,
		ProviderID: e.ProviderID,
		Type:       e.Type,
		Payload:    datatypes.JSON(e.Payload),
		Processed:  e.Processed,
		CreatedAt:  e.CreatedAt,
	}
}

func reportToModel(r domain.Report) ReportModel {
	return ReportModel{
		ID:         r.ID,
		SaleID:     r.SaleID,
		ReporterID: r.ReporterID,
		Reason:     r.Reason,
		Details:    r.Details,
		Status:     string(r.Status),
		ResolvedBy: r.ResolvedBy,
		CreatedAt:  r.CreatedAt,
		ResolvedAt: r.ResolvedAt,
	}
}

func reportFromModel(m ReportModel) domain.Report {
	return domain.Report{
		ID:         m.ID,
		SaleID:     m.SaleID,
		ReporterID: m.ReporterID,
		Reason:     m.Reason,
		Details:    m.Details,
		Status:     domain.ReportStatus(m.Status),
		ResolvedBy: m.ResolvedBy,
		CreatedAt:  m.CreatedAt,
		ResolvedAt: m.ResolvedAt,
	}
}

func analyticsEventToModel(e domain.AnalyticsEvent) AnalyticsEventModel {
	var props datatypes.JSON
	if len(e.Properties) > 0 {
		raw, _ := json.Marshal(e.Properties)
		props = raw
	}
	return AnalyticsEventModel{
		ID:         e.ID,
		Kind:       e.Kind,
		SaleID:     e.SaleID,
		UserID:     e.UserID,
		Properties: props,
		CreatedAt:  e.CreatedAt,
	}
}

func zipToModel(z domain.ZipCode) ZipCodeModel {
	return ZipCodeModel{
		Zip:   z.Zip,
		City:  z.City,
		State: z.State,
		Lat:   z.Lat,
		Lng:   z.Lng,
	}
}

func zipFromModel(m ZipCodeModel) domain.ZipCode {
	return domain.ZipCode{
		Zip:   m.Zip,
		City:  m.City,
		State: m.State,
		Lat:   m.Lat,
		Lng:   m.Lng,
	}
}
