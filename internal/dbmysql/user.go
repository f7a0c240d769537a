package dbmysql

import (
	"time"

	"gorm.io/gorm"
)

const (
	UserStatusActive  = "active"
	UserStatusBanned  = "banned"
	UserStatusDeleted = "deleted"
)

// User is the account row. Chat only reads it to confirm a credential still
// belongs to an active account.
type User struct {
	UserID    int64          `gorm:"primaryKey;column:user_id;autoIncrement" json:"user_id"`
	Handle    string         `gorm:"column:handle;uniqueIndex;size:50;not null" json:"handle"`
	Email     string         `gorm:"column:email;size:255" json:"email"`
	Status    string         `gorm:"column:status;type:enum('active','banned','deleted');default:'active'" json:"status"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == UserStatusActive
}
