package model

import (
	"time"

	"gorm.io/gorm"
)

// Session 登录会话。单会话策略：同一用户同时最多一行 is_active=true，
// 由部分唯一索引（见 Migrate）在存储层兜底，而不是应用层 check-then-insert。
type Session struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Token        string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	LastActivity time.Time `gorm:"not null" json:"last_activity"`
}

func (Session) TableName() string { return "sessions" }
