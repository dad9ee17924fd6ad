package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
)

// CreateUser inserts u unless the username or email is taken. Logically
// deleted principals still hold their username and email.
func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Unscoped().Model(&models.User{}).
			Where("username = ? OR email = ?", u.Username, u.Email).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUserAlreadyExist
		}
		return tx.Create(u).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserAlreadyExist
	}
	return err
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) List(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := r.DB.WithContext(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []models.User
	if err := r.DB.WithContext(ctx).Order("created_at ASC, id ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *GormRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, map[string]any{"last_login_at": at})
}

// SaveTwoFactorSecret stores a fresh secret and leaves enforcement off until
// EnableTwoFactor.
func (r *GormRepo) SaveTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error {
	return r.update(ctx, id, map[string]any{"two_factor_secret": secret, "two_factor_enabled": false, "two_factor_step": 0})
}

// EnableTwoFactor turns enforcement on and burns the step of the confirming
// code.
func (r *GormRepo) EnableTwoFactor(ctx context.Context, id uuid.UUID, step int64) error {
	return r.consumeStep(ctx, id, step, map[string]any{"two_factor_enabled": true, "two_factor_step": step})
}

// ConsumeTwoFactorStep records step as used. It fails with ErrStepUsed when
// the stored step is already at or past it, so two concurrent logins cannot
// share one code.
func (r *GormRepo) ConsumeTwoFactorStep(ctx context.Context, id uuid.UUID, step int64) error {
	return r.consumeStep(ctx, id, step, map[string]any{"two_factor_step": step})
}

func (r *GormRepo) consumeStep(ctx context.Context, id uuid.UUID, step int64, cols map[string]any) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND two_factor_step < ?", id, step).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrStepUsed
}

func (r *GormRepo) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.update(ctx, id, map[string]any{"role": role})
}

func (r *GormRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.update(ctx, id, map[string]any{"enabled": enabled})
}

func (r *GormRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) update(ctx context.Context, id uuid.UUID, cols map[string]any) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
