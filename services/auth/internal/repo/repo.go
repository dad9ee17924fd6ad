package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrUserAlreadyExist = errors.New("user already exist")
	ErrStepUsed         = errors.New("totp step already used")
)

type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo { return &GormRepo{DB: db} }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{})
}

func (r *GormRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
