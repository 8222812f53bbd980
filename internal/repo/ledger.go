package repo

import (
	"context"
	"time"

	"github.com/Skotchmaster/dailyquiz/internal/logging"
	"github.com/Skotchmaster/dailyquiz/internal/models"
	"gorm.io/gorm/clause"
)

func (r *GormRepo) IsAccessBlocked(ctx context.Context, jti string) (bool, error) {
	if r.Cache != nil {
		if blocked, err := r.Cache.IsBlocked(ctx, jti); err == nil && blocked {
			return true, nil
		} else if err != nil {
			logging.FromContext(ctx).Warn("blocklist_cache_error", "error", err)
		}
	}

	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.AccessTokenBlocklist{}).
		Where("jti = ?", jti).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// BlockAccess is idempotent: an already blocklisted JTI is left as is.
func (r *GormRepo) BlockAccess(ctx context.Context, jti string, expiresAt time.Time) error {
	entry := models.AccessTokenBlocklist{JTI: jti, ExpiresAt: expiresAt.Unix()}
	err := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "jti"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return err
	}
	if !r.inTx {
		r.RememberBlocked(ctx, jti, expiresAt)
	}
	return nil
}

// RememberBlocked pushes a committed blocklist entry into the cache.
func (r *GormRepo) RememberBlocked(ctx context.Context, jti string, expiresAt time.Time) {
	if r.Cache == nil {
		return
	}
	if err := r.Cache.MarkBlocked(ctx, jti, time.Until(expiresAt)); err != nil {
		logging.FromContext(ctx).Warn("blocklist_cache_error", "error", err)
	}
}

// RevokeAllRefresh marks every live refresh row of username revoked and
// returns how many rows changed.
func (r *GormRepo) RevokeAllRefresh(ctx context.Context, username string) (int64, error) {
	result := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("username = ? AND revoked = ?", username, false).
		Update("revoked", true)
	return result.RowsAffected, result.Error
}

func (r *GormRepo) IsRefreshValid(ctx context.Context, jti string, now time.Time) (bool, error) {
	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("jti = ? AND revoked = ? AND expires_at > ?", jti, false, now.Unix()).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepo) CreateRefresh(ctx context.Context, token *models.RefreshToken) error {
	return translate(r.DB.WithContext(ctx).Create(token).Error)
}

func (r *GormRepo) FindRefreshByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("jti = ?", jti).First(&token).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

// ConsumeRefresh revokes one live refresh row with a single conditional
// update. Of two concurrent callers only one sees a row change.
func (r *GormRepo) ConsumeRefresh(ctx context.Context, jti, username string, now time.Time) error {
	result := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("jti = ? AND username = ? AND revoked = ? AND expires_at > ?", jti, username, false, now.Unix()).
		Update("revoked", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefreshUnavailable
	}
	return nil
}

// RotateRefresh consumes oldJTI and stores next in one transaction.
func (r *GormRepo) RotateRefresh(ctx context.Context, oldJTI, username string, next *models.RefreshToken, now time.Time) error {
	return r.Transaction(ctx, func(tx *GormRepo) error {
		if err := tx.ConsumeRefresh(ctx, oldJTI, username, now); err != nil {
			return err
		}
		return tx.CreateRefresh(ctx, next)
	})
}

// PurgeExpiredBlocklist deletes blocklist rows whose access token has
// already expired on its own.
func (r *GormRepo) PurgeExpiredBlocklist(ctx context.Context, now time.Time) (int64, error) {
	result := r.DB.WithContext(ctx).
		Where("expires_at <= ?", now.Unix()).
		Delete(&models.AccessTokenBlocklist{})
	return result.RowsAffected, result.Error
}
