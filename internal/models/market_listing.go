// internal/models/market_listing.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketListing offers copies of an asset held by the placer's storage account
// (or the platform account when PlacerID is nil). The number of copies is never
// stored here; it is read from the ledger every time it is needed.
type MarketListing struct {
	BaseModel
	AssetID  uuid.UUID       `json:"asset_id" gorm:"type:uuid;not null;index"`
	PlacerID *uuid.UUID      `json:"placer_id" gorm:"type:uuid;index"`
	Price    decimal.Decimal `json:"price" gorm:"type:decimal(20,7);not null"`
	PriceUSD decimal.Decimal `json:"price_usd" gorm:"column:price_usd;type:decimal(20,2);not null"`
	Privacy  PrivacyTier     `json:"privacy" gorm:"type:varchar(10);not null"`
	Type     ListingType     `json:"type" gorm:"type:varchar(10);not null;index"`

	// Relationships
	Asset  Asset `json:"asset,omitempty" gorm:"foreignKey:AssetID"`
	Placer *User `json:"-" gorm:"foreignKey:PlacerID"`
}

func (l *MarketListing) IsPlatformListing() bool {
	return l.PlacerID == nil
}

// OwnedBy reports whether user may manage the listing.
func (l *MarketListing) OwnedBy(user *User) bool {
	if l.PlacerID == nil {
		return user.IsAdmin()
	}
	return *l.PlacerID == user.ID
}
