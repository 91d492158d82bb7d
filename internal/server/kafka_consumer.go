package server

import (
	"context"
	"sync"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// kafkaReader segmentio kafka.Reader 的最小子集，便于测试注入
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumerServer consumes charge events from Kafka, one reader goroutine per topic
type KafkaConsumerServer struct {
	primary kafkaReader
	dlq     kafkaReader
	events  chargeEventHandler
	log     *log.Helper

	cancel context.CancelFunc
	wg     sync.WaitGroup
	// retryDelay 处理失败后重试同一条消息前的等待
	retryDelay time.Duration
}

// NewKafkaConsumerServer creates the Kafka consumer server; disabled when kafka is not configured
func NewKafkaConsumerServer(c *conf.Bootstrap, events *biz.ChargeEventUseCase, logger log.Logger) *KafkaConsumerServer {
	s := &KafkaConsumerServer{
		events:     events,
		log:        log.NewHelper(logger),
		retryDelay: time.Second,
	}
	if c.Data == nil || c.Data.Kafka == nil || !c.Data.Kafka.Enabled {
		return s
	}
	kc := c.Data.Kafka
	groupID := kc.GroupID
	if groupID == "" {
		groupID = constants.DefaultConsumerGroup
	}
	s.primary = newKafkaReader(kc.Brokers, topicOr(kc.Topic, constants.DefaultChargeTopic), groupID)
	s.dlq = newKafkaReader(kc.Brokers, topicOr(kc.DlqTopic, constants.DefaultChargeDlqTopic), groupID)
	return s
}

func newKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Start starts one reader loop per topic
func (s *KafkaConsumerServer) Start(ctx context.Context) error {
	if s.primary == nil {
		s.log.Infof("KafkaConsumerServer is disabled, skipping startup")
		return nil
	}
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.run(ctx, s.primary, false)
	}()
	go func() {
		defer s.wg.Done()
		s.run(ctx, s.dlq, true)
	}()
	return nil
}

// Stop cancels the loops and closes the readers
func (s *KafkaConsumerServer) Stop(ctx context.Context) error {
	if s.primary == nil || s.cancel == nil {
		return nil
	}
	s.log.Info("Stopping KafkaConsumerServer")
	s.cancel()
	s.wg.Wait()
	var firstErr error
	for _, r := range []kafkaReader{s.primary, s.dlq} {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *KafkaConsumerServer) run(ctx context.Context, r kafkaReader, deadLetter bool) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnf("Error fetching kafka message: %v", err)
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		if deadLetter && !sleepCtx(ctx, time.Until(notBefore(m))) {
			return
		}
		if !s.process(ctx, m, deadLetter) {
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			s.log.Errorf("Failed to commit offset: topic=%s, offset=%d, error=%v", m.Topic, m.Offset, err)
		}
	}
}

// process 处理失败时原地重试同一条消息，保证同分区内的顺序；ctx 取消时返回 false
func (s *KafkaConsumerServer) process(ctx context.Context, m kafka.Message, deadLetter bool) bool {
	for {
		err := dispatchChargeEvent(ctx, s.events, deadLetter, m.Value, s.log)
		if err == nil {
			return true
		}
		s.log.Errorf("Processing failed: topic=%s, offset=%d, error=%v", m.Topic, m.Offset, err)
		if !sleepCtx(ctx, s.retryDelay) {
			return false
		}
	}
}

// notBefore 死信消息头中的最早处理时间，缺失或无法解析时立即处理
func notBefore(m kafka.Message) time.Time {
	for _, h := range m.Headers {
		if h.Key != constants.HeaderNotBefore {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, string(h.Value))
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
