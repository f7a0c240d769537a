package user

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"conify/internal/common"
	"conify/internal/dbmysql"
)

// UserRepository reads account rows. Chat never writes accounts.
type UserRepository interface {
	GetUserByID(ctx context.Context, userID int64) (*dbmysql.User, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// GetUserByID only returns active accounts.
func (r *userRepository) GetUserByID(ctx context.Context, userID int64) (*dbmysql.User, error) {
	var user dbmysql.User
	err := r.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, dbmysql.UserStatusActive).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user %d: %w", userID, err)
	}
	return &user, nil
}
