// internal/models/user.go
package models

type User struct {
	BaseModel
	Username  string     `json:"username" gorm:"uniqueIndex;size:50;not null"`
	PublicKey string     `json:"public_key" gorm:"size:56;index"`
	UserType  UserType   `json:"user_type" gorm:"type:varchar(20);not null"`
	Status    UserStatus `json:"status" gorm:"type:varchar(20);default:'active'"`

	// Relationships
	StorageAccount *StorageAccount `json:"-" gorm:"foreignKey:CreatorID"`
	PageAsset      *PageAsset      `json:"page_asset,omitempty" gorm:"foreignKey:CreatorID"`
}

func (u *User) IsAdmin() bool {
	return u.UserType == UserTypeAdmin
}
