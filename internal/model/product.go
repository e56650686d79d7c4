package model

import (
	"time"

	"gorm.io/gorm"
)

// Product 目录商品：报价以其当前单价为参考，成交价以 RFQ 报价快照为准。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name       string `gorm:"size:128;not null" json:"name"`
	SKU        string `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	UnitPrice  int64  `gorm:"not null" json:"unit_price"` // 单位：分
	Currency   string `gorm:"size:8;not null;default:'PHP'" json:"currency"`
	IsSellable bool   `gorm:"not null;default:true;index" json:"is_sellable"`
}

func (Product) TableName() string { return "products" }

// UnitStatus 库存单元状态机：IN_STOCK → RESERVED → SOLD；
// RESERVED 可回退 IN_STOCK（取消/释放），RETIRED 表示报废下架。
type UnitStatus string

const (
	UnitInStock  UnitStatus = "IN_STOCK"
	UnitReserved UnitStatus = "RESERVED"
	UnitSold     UnitStatus = "SOLD"
	UnitRetired  UnitStatus = "RETIRED"
)

// ProductUnit 一行对应一件可分配的实物库存，按 created_at 先进先出分配。
type ProductUnit struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ProductID uint       `gorm:"not null;index:idx_units_product_status" json:"product_id"`
	SerialNo  string     `gorm:"size:64;uniqueIndex;not null" json:"serial_no"`
	Status    UnitStatus `gorm:"size:16;not null;default:'IN_STOCK';index:idx_units_product_status" json:"status"`
}

func (ProductUnit) TableName() string { return "product_units" }
