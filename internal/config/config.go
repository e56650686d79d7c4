package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	// 会话凭证：HS256 签名密钥与会话时长（默认 2 小时）。
	JWTSecret  string
	SessionTTL time.Duration

	// 报价有效期，过期后客户侧操作惰性判定 EXPIRED。
	QuoteValidFor time.Duration

	RedisAddr string
	RedisDB   int

	// 登录接口限流（防撞库），按账号/IP 维度。
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// Kafka 集群地址（逗号分隔）、Topic、消费者组：订单事件审计流水。
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox（API 尽力入流，Relay 异步转 Kafka）。
	OrderEventStream   string
	OrderEventGroup    string
	OrderEventConsumer string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DBPath:             getEnv("DB_PATH", "rfq_store.db"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-jwt-secret"),
		SessionTTL:         2 * time.Hour,
		QuoteValidFor:      7 * 24 * time.Hour,
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            0,
		LoginRateLimit:     20,
		LoginRateWindow:    time.Minute,
		KafkaBrokers:       splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "rfq-store-order-events"),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "rfq-store-audit-consumer"),
		OrderEventStream:   getEnv("ORDER_EVENT_STREAM", "rfq_store:order_events"),
		OrderEventGroup:    getEnv("ORDER_EVENT_GROUP", "rfq-store-relay-group"),
		OrderEventConsumer: getEnv("ORDER_EVENT_CONSUMER", "rfq-store-relay-1"),
	}

	sessionTTLHour, err := getEnvInt("SESSION_TTL_HOUR", int(cfg.SessionTTL.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SESSION_TTL_HOUR: %w", err)
	}
	if sessionTTLHour <= 0 {
		return AppConfig{}, fmt.Errorf("SESSION_TTL_HOUR must be > 0")
	}
	cfg.SessionTTL = time.Duration(sessionTTLHour) * time.Hour

	quoteValidHour, err := getEnvInt("QUOTE_VALID_HOUR", int(cfg.QuoteValidFor.Hours()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid QUOTE_VALID_HOUR: %w", err)
	}
	if quoteValidHour <= 0 {
		return AppConfig{}, fmt.Errorf("QUOTE_VALID_HOUR must be > 0")
	}
	cfg.QuoteValidFor = time.Duration(quoteValidHour) * time.Hour

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("LOGIN_RATE_LIMIT", cfg.LoginRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOGIN_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("LOGIN_RATE_LIMIT must be > 0")
	}
	cfg.LoginRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("LOGIN_RATE_WINDOW_SEC", int(cfg.LoginRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid LOGIN_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("LOGIN_RATE_WINDOW_SEC must be > 0")
	}
	cfg.LoginRateWindow = time.Duration(rateWindowSec) * time.Second

	if cfg.JWTSecret == "" {
		return AppConfig{}, fmt.Errorf("JWT_SECRET must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_GROUP_ID must not be empty")
	}
	if cfg.OrderEventStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_STREAM must not be empty")
	}
	if cfg.OrderEventGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_GROUP must not be empty")
	}
	if cfg.OrderEventConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_EVENT_CONSUMER must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
