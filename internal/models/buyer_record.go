// internal/models/buyer_record.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyerRecord is the durable proof of a completed purchase. It is appended
// only after the ledger reports the transaction as successful; TxHash is the
// dedupe key for client retries and the reconciliation sweep.
type BuyerRecord struct {
	BaseModel
	AssetID     uuid.UUID         `json:"asset_id" gorm:"type:uuid;not null;index"`
	ListingID   *uuid.UUID        `json:"listing_id,omitempty" gorm:"type:uuid;index"`
	UserID      uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	TxHash      string            `json:"tx_hash" gorm:"size:64;not null;uniqueIndex"`
	Method      PaymentMethodKind `json:"method" gorm:"type:varchar(10);not null"`
	Amount      decimal.Decimal   `json:"amount" gorm:"type:decimal(20,7);not null"`
	PlatformFee decimal.Decimal   `json:"platform_fee" gorm:"type:decimal(20,7);not null"`
	PaymentRef  string            `json:"payment_reference,omitempty" gorm:"size:255"`
	Source      RecordSource      `json:"source" gorm:"type:varchar(10);not null;default:'confirm'"`
	BuyAt       time.Time         `json:"buy_at" gorm:"not null"`

	// Relationships
	Asset Asset `json:"-" gorm:"foreignKey:AssetID"`
	User  User  `json:"-" gorm:"foreignKey:UserID"`
}

func (BuyerRecord) TableName() string {
	return "user_assets"
}
