package auth

import "time"

// User はログイン可能なユーザーのレコードです。
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	Username     string    `json:"username" gorm:"not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"not null"`
	IsAdmin      bool      `json:"isAdmin" gorm:"not null;default:false"`
	IsActive     bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
