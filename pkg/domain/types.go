package domain

import "time"

type SaleStatus string

const (
	SaleDraft     SaleStatus = "draft"
	SalePublished SaleStatus = "published"
	SaleArchived  SaleStatus = "archived"
)

type Moderation string

const (
	ModerationVisible Moderation = "visible"
	ModerationHidden  Moderation = "hidden"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

type PromotionStatus string

const (
	PromotionPending  PromotionStatus = "pending"
	PromotionActive   PromotionStatus = "active"
	PromotionExpired  PromotionStatus = "expired"
	PromotionCanceled PromotionStatus = "canceled"
)

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         UserRole   `json:"role"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Profile carries the public-facing identity and digest preferences of a user.
type Profile struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	HomeZip      string    `json:"homeZip,omitempty"`
	HomeLat      float64   `json:"homeLat,omitempty"`
	HomeLng      float64   `json:"homeLng,omitempty"`
	DigestOptIn  bool      `json:"digestOptIn"`
	LastDigestAt time.Time `json:"lastDigestAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Sale is a single yard sale listing: where it is, when it runs, who owns it.
type Sale struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Address       string     `json:"address,omitempty"`
	Zip           string     `json:"zip,omitempty"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	StartsAt      time.Time  `json:"startsAt"`
	EndsAt        time.Time  `json:"endsAt"`
	Status        SaleStatus `json:"status"`
	Moderation    Moderation `json:"moderation"`
	ViewCount     int64      `json:"viewCount"`
	PromotedUntil time.Time  `json:"promotedUntil,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Promoted reports whether the sale carries an active boost at t.
func (s Sale) Promoted(t time.Time) bool {
	return !s.PromotedUntil.IsZero() && s.PromotedUntil.After(t)
}

// Listed reports whether the sale may appear in public list and search output.
func (s Sale) Listed() bool {
	return s.Status == SalePublished && s.Moderation == ModerationVisible
}

type Item struct {
	ID         string    `json:"id"`
	SaleID     string    `json:"saleId"`
	Name       string    `json:"name"`
	Category   string    `json:"category,omitempty"`
	PriceCents int64     `json:"priceCents"`
	Sold       bool      `json:"sold"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Photo struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"saleId"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Position    int       `json:"position"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Favorite struct {
	UserID    string    `json:"userId"`
	SaleID    string    `json:"saleId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is an unpublished sale payload kept per owner under a client-chosen key.
type Draft struct {
	OwnerID   string    `json:"ownerId"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Promotion is a paid, time-boxed visibility boost applied to a sale.
type Promotion struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"saleId"`
	BuyerID     string          `json:"buyerId"`
	SessionID   string          `json:"-"`
	Status      PromotionStatus `json:"status"`
	AmountCents int64           `json:"amountCents"`
	Currency    string          `json:"currency"`
	StartsAt    time.Time       `json:"startsAt,omitempty"`
	EndsAt      time.Time       `json:"endsAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PaymentEvent records one received provider webhook, kept so replays are no-ops.
type PaymentEvent struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Type       string    `json:"type"`
	Payload    []byte    `json:"-"`
	Processed  bool      `json:"processed"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Report struct {
	ID         string       `json:"id"`
	SaleID     string       `json:"saleId"`
	ReporterID string       `json:"reporterId"`
	Reason     string       `json:"reason"`
	Details    string       `json:"details,omitempty"`
	Status     ReportStatus `json:"status"`
	ResolvedBy string       `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	ResolvedAt time.Time    `json:"resolvedAt,omitempty"`
}

type AnalyticsEvent struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	SaleID     string            `json:"saleId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

const (
	EventSaleView = "sale_view"
	EventSearch   = "search"
	EventFavorite = "favorite"
)

// ZipCode is one row of the imported zip gazetteer.
type ZipCode struct {
	Zip   string  `json:"zip"`
	City  string  `json:"city"`
	State string  `json:"state"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}
