// internal/models/storage_account.go
package models

import "github.com/google/uuid"

// StorageAccount is the custodial ledger account that holds a creator's
// listed copies. SealedSecret is only ever opened server side.
type StorageAccount struct {
	BaseModel
	CreatorID    uuid.UUID `json:"creator_id" gorm:"type:uuid;not null;uniqueIndex"`
	PublicKey    string    `json:"public_key" gorm:"size:56;not null;uniqueIndex"`
	SealedSecret string    `json:"-" gorm:"type:text;not null"`
}
