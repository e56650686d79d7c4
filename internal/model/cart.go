package model

import (
	"time"

	"gorm.io/gorm"
)

// CartStatus 一个用户最多一个 ACTIVE 购物车，关单后保留历史。
type CartStatus string

const (
	CartActive   CartStatus = "ACTIVE"
	CartArchived CartStatus = "ARCHIVED"
)

// Cart 首次加购时惰性创建，不做物理删除，跨登录复用。
type Cart struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID uint       `gorm:"not null;index:idx_carts_user_status" json:"user_id"`
	Status CartStatus `gorm:"size:16;not null;default:'ACTIVE';index:idx_carts_user_status" json:"status"`

	Lines []CartLine `gorm:"foreignKey:CartID" json:"lines,omitempty"`
}

func (Cart) TableName() string { return "carts" }

// CartLineStatus 行状态单向流转：ACTIVE → REMOVED（软删）/ RFQED（并入询价单）。
// RFQED 行在客户撤单时可恢复为 ACTIVE。
type CartLineStatus string

const (
	CartLineActive  CartLineStatus = "ACTIVE"
	CartLineRemoved CartLineStatus = "REMOVED"
	CartLineRFQed   CartLineStatus = "RFQED"
)

// CartLine ACTIVE 行在 (cart, product) 上唯一，重复加购合并数量。
// 单价与币种在加购时快照，展示用；成交价以 RFQ 报价为准。
type CartLine struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	CartID        uint           `gorm:"not null;index" json:"cart_id"`
	ProductID     uint           `gorm:"not null;index" json:"product_id"`
	Quantity      int            `gorm:"not null" json:"quantity"`
	PriceSnapshot int64          `gorm:"not null" json:"price_snapshot"` // 单位：分
	Currency      string         `gorm:"size:8;not null;default:'PHP'" json:"currency"`
	Status        CartLineStatus `gorm:"size:16;not null;default:'ACTIVE';index" json:"status"`
	// RFQID 记录该行被折入的询价单，用于撤单时恢复。
	RFQID *uint `gorm:"index" json:"rfq_id,omitempty"`
}

func (CartLine) TableName() string { return "cart_lines" }
