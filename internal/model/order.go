package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus 履约状态机：AWAITING_PICKUP → READY_FOR_PICKUP → COMPLETED；
// CANCELLED 可从任意未完成状态到达。
type OrderStatus string

const (
	OrderAwaitingPickup OrderStatus = "AWAITING_PICKUP"
	OrderReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderCompleted      OrderStatus = "COMPLETED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

// PaymentStatus 支付状态：线下现金，本地记账。
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Order 由一张已报价 RFQ 转化而来。TotalPrice 为建单时各行 line_total
// 之和的快照，后续目录调价不回溯。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNo       string        `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	RFQID         uint          `gorm:"uniqueIndex;not null" json:"rfq_id"`
	UserID        uint          `gorm:"not null;index" json:"user_id"`
	Currency      string        `gorm:"size:8;not null;default:'PHP'" json:"currency"`
	TotalPrice    int64         `gorm:"not null" json:"total_price"` // 分
	Status        OrderStatus   `gorm:"size:32;not null;default:'AWAITING_PICKUP';index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:16;not null;default:'UNPAID'" json:"payment_status"`
	PaymentMethod string        `gorm:"size:16;not null;default:'cash'" json:"payment_method"`
	// AmountTendered / ChangeDue 收银快照，单位分。
	AmountTendered *int64     `json:"amount_tendered"`
	ChangeDue      *int64     `json:"change_due"`
	PaidAt         *time.Time `json:"paid_at"`

	Lines []OrderLine `gorm:"foreignKey:OrderID" json:"lines,omitempty"`
}

func (Order) TableName() string { return "orders" }

// OrderLine 一行绑定一件已预留的库存单元（ProductUnitID 唯一，
// 杜绝同一实物被两行占用）。单价与小计在建单时快照。
type OrderLine struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderID       uint  `gorm:"not null;index" json:"order_id"`
	RFQLineID     uint  `gorm:"not null;index" json:"rfq_line_id"`
	ProductID     uint  `gorm:"not null;index" json:"product_id"`
	ProductUnitID uint  `gorm:"uniqueIndex;not null" json:"product_unit_id"`
	Quantity      int   `gorm:"not null" json:"quantity"`
	UnitPrice     int64 `gorm:"not null" json:"unit_price"` // 分
	LineTotal     int64 `gorm:"not null" json:"line_total"` // 分
}

func (OrderLine) TableName() string { return "order_lines" }
