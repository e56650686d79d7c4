package model

import (
	"time"

	"gorm.io/gorm"
)

// RFQStatus 询价单状态机。终态：CONVERTED_TO_ORDER / REJECTED_BY_ADMIN /
// REJECTED_BY_CUSTOMER / EXPIRED。
type RFQStatus string

const (
	RFQPendingReview      RFQStatus = "PENDING_REVIEW"
	RFQUnderReview        RFQStatus = "UNDER_REVIEW"
	RFQQuoteSent          RFQStatus = "QUOTE_SENT"
	RFQPartiallyQuoted    RFQStatus = "PARTIALLY_QUOTED"
	RFQConvertedToOrder   RFQStatus = "CONVERTED_TO_ORDER"
	RFQRejectedByCustomer RFQStatus = "REJECTED_BY_CUSTOMER"
	RFQRejectedByAdmin    RFQStatus = "REJECTED_BY_ADMIN"
	RFQExpired            RFQStatus = "EXPIRED"
)

// rfqTransitions 显式迁移表：替代散落在各 handler 的字符串判断，
// 非法迁移统一走一处校验。
var rfqTransitions = map[RFQStatus][]RFQStatus{
	RFQPendingReview:   {RFQUnderReview, RFQQuoteSent, RFQPartiallyQuoted, RFQRejectedByCustomer, RFQRejectedByAdmin, RFQExpired},
	RFQUnderReview:     {RFQQuoteSent, RFQPartiallyQuoted, RFQRejectedByCustomer, RFQRejectedByAdmin, RFQExpired},
	RFQQuoteSent:       {RFQConvertedToOrder, RFQRejectedByCustomer, RFQRejectedByAdmin, RFQExpired},
	RFQPartiallyQuoted: {RFQQuoteSent, RFQConvertedToOrder, RFQRejectedByCustomer, RFQRejectedByAdmin, RFQExpired},
}

// CanTransition 判断 from → to 是否为合法迁移；终态不再流转。
func (from RFQStatus) CanTransition(to RFQStatus) bool {
	for _, s := range rfqTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal 终态判定。
func (s RFQStatus) IsTerminal() bool {
	return len(rfqTransitions[s]) == 0
}

// RFQ 询价单：客户提交待报价的商品清单。OwnerID 在 schema 上可空，
// 实际经由鉴权网关保证必有归属。
type RFQ struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OwnerID      *uint     `gorm:"index" json:"owner_id"`
	ContactName  string    `gorm:"size:128;not null" json:"contact_name"`
	ContactEmail string    `gorm:"size:128;not null" json:"contact_email"`
	ContactPhone string    `gorm:"size:32" json:"contact_phone"`
	Company      string    `gorm:"size:128" json:"company"`
	Currency     string    `gorm:"size:8;not null;default:'PHP'" json:"currency"`
	Status       RFQStatus `gorm:"size:32;not null;default:'PENDING_REVIEW';index" json:"status"`
	// PriceValidUntil 报价有效期；过期后客户侧操作惰性判定为 EXPIRED。
	PriceValidUntil *time.Time `json:"price_valid_until"`

	Lines []RFQLine `gorm:"foreignKey:RFQID" json:"lines,omitempty"`
}

func (RFQ) TableName() string { return "rfqs" }

// RFQLineStatus 行级报价状态：PENDING_REVIEW 待报价，QUOTED 已报价。
type RFQLineStatus string

const (
	RFQLinePendingReview RFQLineStatus = "PENDING_REVIEW"
	RFQLineQuoted        RFQLineStatus = "QUOTED"
)

// RFQLine 询价行。QuotedUnitPrice / QuotedTotalPrice 二者互相可推导，
// 允许只填其一。
type RFQLine struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	RFQID            uint          `gorm:"not null;index" json:"rfq_id"`
	ProductID        uint          `gorm:"not null;index" json:"product_id"`
	Quantity         int           `gorm:"not null" json:"quantity"`
	QuotedUnitPrice  *int64        `json:"quoted_unit_price"`  // 分
	QuotedTotalPrice *int64        `json:"quoted_total_price"` // 分
	LeadTimeDays     *int          `json:"lead_time_days"`
	LineStatus       RFQLineStatus `gorm:"size:32;not null;default:'PENDING_REVIEW'" json:"line_status"`
}

func (RFQLine) TableName() string { return "rfq_lines" }
