package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the principal record. TwoFactorSecret is set at enrollment and only
// enforced once TwoFactorEnabled flips. TwoFactorStep is the last TOTP step
// accepted; codes at or below it are refused.
type User struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey"  json:"id"`
	Username         string         `gorm:"uniqueIndex;not null"  json:"username"`
	Email            string         `gorm:"uniqueIndex;not null"  json:"email"`
	PasswordHash     string         `gorm:"not null"              json:"-"`
	Role             string         `gorm:"not null"              json:"role"`
	Enabled          bool           `gorm:"not null"              json:"enabled"`
	EmailVerified    bool           `gorm:"not null"              json:"emailVerified"`
	TwoFactorSecret  string         `gorm:"not null;default:''"   json:"-"`
	TwoFactorEnabled bool           `gorm:"not null"              json:"twoFactorEnabled"`
	TwoFactorStep    int64          `gorm:"not null;default:0"    json:"-"`
	LastLoginAt      *time.Time     `                             json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time      `                             json:"createdAt"`
	UpdatedAt        time.Time      `                             json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `gorm:"index"                 json:"-"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
