package users

import (
	"context"

	"github.com/sikulab/secauth/model"
	"gorm.io/gorm"
)

// Index names gorm derives for the User unique columns, used to attribute
// duplicate-key failures to a field.
const (
	IdxUserUsername = "idx_user_username"
	IdxUserEmail    = "idx_user_email"
	IdxUserPhone    = "idx_user_phone"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uint64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
	Updates(ctx context.Context, id uint64, columns map[string]interface{}) error
	// UpdateVersioned applies columns only if the row still carries the given
	// version, bumping the version on success. Returns the number of rows
	// changed; zero means a concurrent writer won.
	UpdateVersioned(ctx context.Context, id uint64, version uint64, columns map[string]interface{}) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Updates(ctx context.Context, id uint64, columns map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(columns).Error
}

func (r *userRepository) UpdateVersioned(ctx context.Context, id uint64, version uint64, columns map[string]interface{}) (int64, error) {
	updates := make(map[string]interface{}, len(columns)+1)
	for col, val := range columns {
		updates[col] = val
	}
	updates["version"] = gorm.Expr("version + 1")
	ret := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	return ret.RowsAffected, ret.Error
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}
