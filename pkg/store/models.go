package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	Status       string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ProfileModel struct {
	UserID       string `gorm:"primaryKey"`
	DisplayName  string `gorm:"not null"`
	HomeZip      string
	HomeLat      float64
	HomeLng      float64
	DigestOptIn  bool `gorm:"index"`
	LastDigestAt time.Time
	UpdatedAt    time.Time `gorm:"not null"`
}

type SaleModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Title         string `gorm:"not null"`
	Description   string `gorm:"type:text"`
	Address       string
	Zip           string    `gorm:"index"`
	Lat           float64   `gorm:"index"`
	Lng           float64   `gorm:"index"`
	StartsAt      time.Time `gorm:"index"`
	EndsAt        time.Time `gorm:"index"`
	Status        string    `gorm:"not null;index"`
	Moderation    string    `gorm:"not null;index"`
	ViewCount     int64     `gorm:"not null;default:0"`
	PromotedUntil time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type ItemModel struct {
	ID         string `gorm:"primaryKey"`
	SaleID     string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	Category   string `gorm:"index"`
	PriceCents int64  `gorm:"not null;default:0"`
	Sold       bool
	Position   int
	CreatedAt  time.Time `gorm:"not null"`
}

type PhotoModel struct {
	ID          string `gorm:"primaryKey"`
	SaleID      string `gorm:"not null;index"`
	StorageKey  string `gorm:"not null"`
	ContentType string
	SizeBytes   int64
	Position    int
	CreatedAt   time.Time `gorm:"not null"`
}

type FavoriteModel struct {
	UserID    string    `gorm:"primaryKey"`
	SaleID    string    `gorm:"primaryKey;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type DraftModel struct {
	OwnerID   string         `gorm:"primaryKey"`
	Key       string         `gorm:"primaryKey"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type PromotionModel struct {
	ID          string `gorm:"primaryKey"`
	SaleID      string `gorm:"not null;index"`
	BuyerID     string `gorm:"not null;index"`
	SessionID   string `gorm:"uniqueIndex;not null"`
	Status      string `gorm:"not null;index"`
	AmountCents int64  `gorm:"not null;default:0"`
	Currency    string
	StartsAt    time.Time
	EndsAt      time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type PaymentEventModel struct {
	ID         string         `gorm:"primaryKey"`
	ProviderID string         `gorm:"uniqueIndex;not null"`
	Type       string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	Processed  bool
	CreatedAt  time.Time `gorm:"not null"`
}

type ReportModel struct {
	ID         string `gorm:"primaryKey"`
	SaleID     string `gorm:"not null;index"`
	ReporterID string `gorm:"not null;index"`
	Reason     string `gorm:"not null"`
	Details    string `gorm:"type:text"`
	Status     string `gorm:"not null;index"`
	ResolvedBy string
	CreatedAt  time.Time `gorm:"not null"`
	ResolvedAt time.Time
}

type AnalyticsEventModel struct {
	ID         string `gorm:"primaryKey"`
	Kind       string `gorm:"not null;index"`
	SaleID     string `gorm:"index"`
	UserID     string
	Properties datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

type ZipCodeModel struct {
	Zip   string `gorm:"primaryKey"`
	City  string
	State string `gorm:"index"`
	Lat   float64
	Lng   float64
}
