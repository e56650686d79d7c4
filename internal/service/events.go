package service

import (
	"context"
	"log"
	"time"

	"rfq_store/internal/queue"
)

// EventSink 订单事件出口（通常是 Redis Stream outbox）。
// 事件流水是旁路审计，发布失败绝不影响主流程。
type EventSink interface {
	Publish(ctx context.Context, evt queue.OrderEvent) error
}

// publishEvent 异步尽力而为地发布事件；sink 未配置时静默跳过。
func publishEvent(sink EventSink, evt queue.OrderEvent) {
	if sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sink.Publish(ctx, evt); err != nil {
			log.Printf("event sink: publish %s order=%d: %v", evt.Kind, evt.OrderID, err)
		}
	}()
}
