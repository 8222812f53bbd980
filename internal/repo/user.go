package repo

import (
	"context"

	"github.com/Skotchmaster/dailyquiz/internal/models"
)

func (r *GormRepo) CreateUser(ctx context.Context, u *models.User) error {
	return translate(r.DB.WithContext(ctx).Create(u).Error)
}

func (r *GormRepo) firstUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (r *GormRepo) UserByID(ctx context.Context, id uint) (*models.User, error) {
	return r.firstUser(ctx, "id = ?", id)
}

func (r *GormRepo) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.firstUser(ctx, "username = ?", username)
}

func (r *GormRepo) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.firstUser(ctx, "email = ?", email)
}

func (r *GormRepo) UserByFederatedUID(ctx context.Context, uid string) (*models.User, error) {
	return r.firstUser(ctx, "federated_uid = ?", uid)
}

// UserByIdentifier matches either the username or the email column.
func (r *GormRepo) UserByIdentifier(ctx context.Context, username, email string) (*models.User, error) {
	return r.firstUser(ctx, "username = ? OR email = ?", username, email)
}

func (r *GormRepo) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.User{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username = ?", username)
}

func (r *GormRepo) EmailTaken(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email = ?", email)
}

// UpdateUser writes the given columns of u. u is reloaded afterwards.
func (r *GormRepo) UpdateUser(ctx context.Context, u *models.User, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	db := r.DB.WithContext(ctx)
	if err := db.Model(u).Updates(fields).Error; err != nil {
		return translate(err)
	}
	return translate(db.First(u, u.ID).Error)
}
