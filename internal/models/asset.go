// internal/models/asset.go
package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is a token issued on the ledger. (code, issuer) is unique.
type Asset struct {
	BaseModel
	Code      string          `json:"code" gorm:"size:12;not null;uniqueIndex:idx_assets_code_issuer"`
	Issuer    string          `json:"issuer" gorm:"size:56;not null;uniqueIndex:idx_assets_code_issuer"`
	CreatorID uuid.UUID       `json:"creator_id" gorm:"type:uuid;not null;index"`
	Name      string          `json:"name" gorm:"size:255"`
	MediaURL  string          `json:"media_url" gorm:"type:text"`
	Privacy   PrivacyTier     `json:"privacy" gorm:"type:varchar(10);not null;default:'PUBLIC'"`
	TierID    *uuid.UUID      `json:"tier_id,omitempty" gorm:"type:uuid"`
	Limit     decimal.Decimal `json:"limit" gorm:"column:mint_limit;type:decimal(20,7);not null"`

	// Relationships
	Creator  User              `json:"-" gorm:"foreignKey:CreatorID"`
	Tier     *SubscriptionTier `json:"tier,omitempty" gorm:"foreignKey:TierID"`
	Listings []MarketListing   `json:"-" gorm:"foreignKey:AssetID;constraint:OnDelete:CASCADE"`
}

// PageAsset is the creator's page token. Holding it gates PRIVATE and TIER
// content; the issuer key is custodied so subscriptions can be clawed back.
type PageAsset struct {
	BaseModel
	CreatorID    uuid.UUID `json:"creator_id" gorm:"type:uuid;not null;uniqueIndex"`
	Code         string    `json:"code" gorm:"size:12;not null"`
	Issuer       string    `json:"issuer" gorm:"size:56;not null"`
	SealedSecret string    `json:"-" gorm:"type:text;not null"`
}

type SubscriptionTier struct {
	BaseModel
	CreatorID uuid.UUID       `json:"creator_id" gorm:"type:uuid;not null;index"`
	Name      string          `json:"name" gorm:"size:100;not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,7);not null"`
}
