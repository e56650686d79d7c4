package model

import (
	"time"

	"gorm.io/gorm"
)

// UserRole 用户角色：admin 负责报价与履约，customer 发起询价。
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleCustomer UserRole = "customer"
)

// UserStatus 账号状态，只有 active 允许登录。
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInactive  UserStatus = "inactive"
	UserSuspended UserStatus = "suspended"
)

// User 存储账号与角色；密码只保存 bcrypt 哈希。
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Email        string     `gorm:"size:128;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"size:128;not null" json:"-"`
	Name         string     `gorm:"size:128" json:"name"`
	Company      string     `gorm:"size:128" json:"company"`
	Role         UserRole   `gorm:"size:16;not null;default:'customer'" json:"role"`
	Status       UserStatus `gorm:"size:16;not null;default:'active';index" json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

func (User) TableName() string { return "users" }
