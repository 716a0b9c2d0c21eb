package model

import (
	"time"

	"gorm.io/gorm"
)

// User 用户表. 鉴权只是外围能力: 给凭证换不透明 token, 给 token 换身份.
type User struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Email         string         `gorm:"type:varchar(255);not null;unique" json:"email"`
	PasswordHash  string         `gorm:"type:varchar(255);not null" json:"-"` // 不返回密码
	FirstName     string         `gorm:"type:varchar(50)" json:"first_name"`
	LastName      string         `gorm:"type:varchar(50)" json:"last_name"`
	WalletAddress string         `gorm:"type:varchar(42);not null;uniqueIndex" json:"wallet_address"` // 小写规范化
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// FullName 通知事件里展示的付款人名称
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	return u.FirstName + " " + u.LastName
}
