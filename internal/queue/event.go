package queue

import "fmt"

// 订单生命周期事件类型。
const (
	EventRFQConverted   = "RFQ_CONVERTED"
	EventOrderReady     = "ORDER_READY"
	EventOrderCompleted = "ORDER_COMPLETED"
	EventOrderCancelled = "ORDER_CANCELLED"
)

// OrderEvent 是进入审计流水的订单事件。EventID 全链路唯一，
// 消费端据此幂等。
type OrderEvent struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	OrderID uint   `json:"order_id"`
	RFQID   uint   `json:"rfq_id"`
	UserID  uint   `json:"user_id"`
	Amount  int64  `json:"amount"` // 分
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch e.Kind {
	case EventRFQConverted, EventOrderReady, EventOrderCompleted, EventOrderCancelled:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if e.UserID == 0 {
		return fmt.Errorf("user_id is required")
	}
	return nil
}
