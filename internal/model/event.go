package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderEvent 订单生命周期审计流水，由 Kafka 消费者异步落库。
// EventID 唯一索引保证重复消息幂等。
type OrderEvent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	EventID string `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	Kind    string `gorm:"size:32;not null;index" json:"kind"`
	OrderID uint   `gorm:"index" json:"order_id"`
	RFQID   uint   `gorm:"index" json:"rfq_id"`
	UserID  uint   `gorm:"index" json:"user_id"`
	Amount  int64  `json:"amount"` // 分
}

func (OrderEvent) TableName() string { return "order_events" }
