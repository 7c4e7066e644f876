package store

import (
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/geo"
)

// SaleFilter scopes public sale queries. Zero values mean "no constraint".
// Public queries only ever see published, visible sales; the filter narrows
// within that set.
type SaleFilter struct {
	// BBox prefilters by rectangle. Radius queries pass the enclosing box
	// and refine by exact distance afterwards.
	BBox *geo.BBox
	// Query matches title or description, case-insensitive substring.
	Query string
	// Category keeps sales that have at least one item in the category.
	Category string
	// StartsAfter / EndsBefore bound the sale schedule.
	StartsAfter time.Time
	EndsBefore  time.Time
	// PromotedAt keeps only sales whose boost is active at this instant.
	PromotedAt time.Time
	// Limit caps the result size; <= 0 falls back to a server default.
	Limit int
}

// Store defines persistence for the marketplace entities.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)
	SetUserStatus(id string, status domain.UserStatus) error

	// profiles
	SaveProfile(domain.Profile) error
	GetProfile(userID string) (domain.Profile, bool, error)
	ListDigestRecipients() ([]domain.Profile, error)
	SetLastDigestAt(userID string, at time.Time) error

	// sales
	SaveSale(domain.Sale) error
	GetSale(id string) (domain.Sale, bool, error)
	DeleteSale(id string) error
	ListSalesByOwner(ownerID string) ([]domain.Sale, error)
	ListAllSales(limit, offset int) ([]domain.Sale, error)
	SearchSales(filter SaleFilter) ([]domain.Sale, error)
	SetSaleStatus(id string, status domain.SaleStatus) error
	SetSaleModeration(id string, m domain.Moderation) error
	SetPromotedUntil(id string, until time.Time) error
	AddSaleViews(counts map[string]int64) error
	ListDigestCandidates(box geo.BBox, now time.Time, limit int) ([]domain.Sale, error)
	SaleCount() (int, error)

	// items
	SaveItem(domain.Item) error
	GetItem(id string) (domain.Item, bool, error)
	ListItemsBySale(saleID string) ([]domain.Item, error)
	DeleteItem(id string) error

	// photos
	SavePhoto(domain.Photo) error
	GetPhoto(id string) (domain.Photo, bool, error)
	ListPhotosBySale(saleID string) ([]domain.Photo, error)
	CountPhotosBySale(saleID string) (int, error)
	DeletePhoto(id string) error

	// favorites
	SaveFavorite(domain.Favorite) error
	DeleteFavorite(userID, saleID string) error
	HasFavorite(userID, saleID string) (bool, error)
	ListFavoriteSales(userID string) ([]domain.Sale, error)

	// drafts
	SaveDraft(domain.Draft) error
	GetDraft(ownerID, key string) (domain.Draft, bool, error)
	ListDraftsByOwner(ownerID string) ([]domain.Draft, error)
	DeleteDraft(ownerID, key string) error

	// promotions
	SavePromotion(domain.Promotion) error
	GetPromotion(id string) (domain.Promotion, bool, error)
	GetPromotionBySession(sessionID string) (domain.Promotion, bool, error)
	ListPromotionsBySale(saleID string) ([]domain.Promotion, error)
	ListLapsedPromotions(now time.Time) ([]domain.Promotion, error)

	// payment events
	SavePaymentEvent(domain.PaymentEvent) error
	HasPaymentEvent(providerID string) (bool, error)

	// reports
	SaveReport(domain.Report) error
	GetReport(id string) (domain.Report, bool, error)
	ListReportsByStatus(status domain.ReportStatus) ([]domain.Report, error)

	// analytics
	SaveAnalyticsEvent(domain.AnalyticsEvent) error
	CountAnalyticsEvents(kind string, since time.Time) (int64, error)

	// zip gazetteer
	UpsertZipCodes(rows []domain.ZipCode) error
	GetZipCode(zip string) (domain.ZipCode, bool, error)
	ZipCodeCount() (int, error)

	// Ping reports whether the backing database is reachable.
	Ping() error
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}
