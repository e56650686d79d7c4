package queue

import (
	"context"
	"strconv"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把订单事件写入 Redis Stream，由 Relay 异步转发 Kafka。
// 主流程只做一次 XADD，Kafka 不可用不影响请求链路。
type Outbox struct {
	rdb    *rd.Client
	stream string
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream}
}

// Publish 事件入流。字段展开为扁平 map，Relay 侧按字段解析。
func (o *Outbox) Publish(ctx context.Context, evt OrderEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"event_id": evt.EventID,
			"kind":     evt.Kind,
			"order_id": strconv.FormatUint(uint64(evt.OrderID), 10),
			"rfq_id":   strconv.FormatUint(uint64(evt.RFQID), 10),
			"user_id":  strconv.FormatUint(uint64(evt.UserID), 10),
			"amount":   strconv.FormatInt(evt.Amount, 10),
		},
	}).Err()
}
