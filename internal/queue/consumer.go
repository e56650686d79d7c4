package queue

import (
	"context"
	"encoding/json"
	"log"

	"rfq_store/internal/apperr"
	"rfq_store/internal/model"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Consumer 消费 Kafka 订单事件并落 order_events 审计流水。
// event_id 唯一索引保证重复消息幂等。
type Consumer struct {
	r  *kafka.Reader
	db *gorm.DB
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db: db,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		var evt OrderEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			log.Printf("consumer unmarshal: %v", err)
			continue
		}
		if err := evt.Validate(); err != nil {
			log.Printf("consumer invalid event: %v", err)
			continue
		}

		row := &model.OrderEvent{
			EventID: evt.EventID,
			Kind:    evt.Kind,
			OrderID: evt.OrderID,
			RFQID:   evt.RFQID,
			UserID:  evt.UserID,
			Amount:  evt.Amount,
		}
		if err := c.db.Create(row).Error; err != nil {
			// 幂等：重复消息导致 UNIQUE 冲突，直接当作成功
			if apperr.IsUniqueViolation(err) {
				continue
			}
			log.Printf("consumer db create: %v", err)
			continue
		}
	}
}
