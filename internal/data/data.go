package data

import (
	"context"
	"fmt"
	"time"

	"credit-service/internal/conf"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewDB,
	NewRedis,
	NewRedsync,
	NewData,
	NewLedgerRepo,
	NewCommissionRepo,
	NewBalanceCache,
	NewSubAccountDirectory,
	NewAgentHierarchy,
	NewChargeEventFailureRepo,
	NewChargeEventPublisher,
	NewJobLocker,
	NewBillNoGenerator,
)

// KafkaWriter segmentio kafka.Writer 的最小子集，便于测试注入
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Data 数据层结构体
type Data struct {
	db  *gorm.DB
	rdb *redis.Client
	// mq 未启用 RocketMQ 时为 nil
	mq rocketmq.Producer
	// kafkaPrimary/kafkaDlq 未启用 Kafka 时为 nil
	kafkaPrimary KafkaWriter
	kafkaDlq     KafkaWriter
}

// NewDB 创建数据库连接；driver 为 sqlite 时自动建表（本地开发）
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	cfg := &gorm.Config{TranslateError: true}
	switch c.Data.Database.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(c.Data.Database.Source), cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	case "", "mysql":
		return gorm.Open(mysql.Open(c.Data.Database.Source), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Data.Database.Driver)
	}
}

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.BalanceAccount{},
		&model.BillingRecord{},
		&model.LedgerProcessedEvent{},
		&model.AgentCommissionAccount{},
		&model.AgentCommissionRecord{},
		&model.AgentCommissionSettlement{},
		&model.SubAccount{},
		&model.AgentRelation{},
		&model.ChargeEventFailure{},
	)
}

// NewRedis 创建 Redis 连接
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil {
		return nil, fmt.Errorf("redis config is nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           c.Data.Redis.Db,
		ReadTimeout:  c.Data.Redis.ReadTimeout.AsDuration(),
		WriteTimeout: c.Data.Redis.WriteTimeout.AsDuration(),
	})

	// 测试连接
	if err := rdb.Ping(rdb.Context()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewRedsync 基于 Redis 的分布式锁
func NewRedsync(rdb *redis.Client) *redsync.Redsync {
	return redsync.New(goredis.NewPool(rdb))
}

// NewData 创建数据层实例，按配置启动 RocketMQ 生产者与 Kafka writer
func NewData(c *conf.Bootstrap, logger log.Logger, db *gorm.DB, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)
	d := &Data{
		db:  db,
		rdb: rdb,
	}

	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.Enabled {
		p, err := newRocketMQProducer(c.Data.Rocketmq)
		if err != nil {
			// 生产者不可用时扣费事件降级为同步处理
			helper.Errorf("init rocketmq producer failed, charge events will be processed inline: %v", err)
		} else {
			d.mq = p
		}
	}
	if c.Data != nil && c.Data.Kafka != nil && c.Data.Kafka.Enabled {
		d.kafkaPrimary = newKafkaWriter(c.Data.Kafka.Brokers, topicOr(c.Data.Kafka.Topic, constants.DefaultChargeTopic))
		d.kafkaDlq = newKafkaWriter(c.Data.Kafka.Brokers, topicOr(c.Data.Kafka.DlqTopic, constants.DefaultChargeDlqTopic))
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		if d.mq != nil {
			if err := d.mq.Shutdown(); err != nil {
				helper.Errorf("failed to shutdown rocketmq producer: %v", err)
			}
		}
		for _, w := range []KafkaWriter{d.kafkaPrimary, d.kafkaDlq} {
			if w == nil {
				continue
			}
			if err := w.Close(); err != nil {
				helper.Errorf("failed to close kafka writer: %v", err)
			}
		}
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				helper.Errorf("failed to close redis: %v", err)
			}
		}
	}

	return d, cleanup, nil
}

func newRocketMQProducer(c *conf.Data_RocketMQ) (rocketmq.Producer, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(c.NameServers)),
		producer.WithGroupName(c.GroupName),
		producer.WithRetry(int(c.RetryTimes)),
		producer.WithSendMsgTimeout(3*time.Second),
	)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// 同一计费账户的事件落在同一分区，保证单账户内有序
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}
