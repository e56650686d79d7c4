package main

import (
	"context"
	"log"
	"time"

	"rfq_store/internal/config"
	"rfq_store/internal/model"
	"rfq_store/internal/queue"
	"rfq_store/internal/router"
	"rfq_store/internal/service"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. 连接 SQLite，自动建表（含部分唯一索引）
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := model.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 2. Redis：登录限流 + 事件 outbox。连不上则降级运行（限流放行、事件不发）。
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable, running degraded: %v", err)
		rdb = nil
	}
	cancel()

	// 3. 事件旁路：outbox → relay → kafka → 审计消费者
	var events service.EventSink
	if rdb != nil {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()

		outbox := queue.NewOutbox(rdb, cfg.OrderEventStream)
		events = outbox

		relay := queue.NewRelay(rdb, producer, cfg.OrderEventStream, cfg.OrderEventGroup, cfg.OrderEventConsumer)
		go relay.Run(context.Background())

		consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, db)
		defer consumer.Close()
		go consumer.Run(context.Background())
	}

	r := gin.Default()
	router.Setup(r, db, rdb, events, cfg)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
