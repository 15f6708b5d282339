// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Enums
type UserType string

const (
	UserTypeCreator UserType = "creator"
	UserTypeBuyer   UserType = "buyer"
	UserTypeAdmin   UserType = "admin"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBanned    UserStatus = "banned"
)

type PrivacyTier string

const (
	PrivacyPublic  PrivacyTier = "PUBLIC"
	PrivacyPrivate PrivacyTier = "PRIVATE"
	PrivacyTiered  PrivacyTier = "TIER"
)

type ListingType string

const (
	ListingTypeFan   ListingType = "FAN"
	ListingTypeAdmin ListingType = "ADMIN"
	ListingTypeSong  ListingType = "SONG"
)

type PaymentMethodKind string

const (
	PaymentMethodAsset PaymentMethodKind = "asset"
	PaymentMethodXLM   PaymentMethodKind = "xlm"
	PaymentMethodUSDC  PaymentMethodKind = "usdc"
	PaymentMethodCard  PaymentMethodKind = "card"
)

type RecordSource string

const (
	RecordSourceConfirm   RecordSource = "confirm"
	RecordSourceReconcile RecordSource = "reconcile"
)
