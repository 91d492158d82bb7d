package server

import (
	"context"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// mqConsumeBatchSize RocketMQ 以批为单位重投；每批一条，重投不会把同批已转发死信的事件再转发一次
const mqConsumeBatchSize = 1

// MQConsumerServer consumes charge events and their dead letters from RocketMQ
type MQConsumerServer struct {
	c        rocketmq.PushConsumer
	events   chargeEventHandler
	topic    string
	dlqTopic string
	log      *log.Helper
	enabled  bool
}

// NewMQConsumerServer creates a RocketMQ consumer server
func NewMQConsumerServer(c *conf.Bootstrap, events *biz.ChargeEventUseCase, logger log.Logger) *MQConsumerServer {
	helper := log.NewHelper(logger)
	if c.Data == nil || c.Data.Rocketmq == nil || !c.Data.Rocketmq.Enabled {
		return &MQConsumerServer{log: helper}
	}
	mc := c.Data.Rocketmq

	groupName := mc.GroupName
	if groupName == "" {
		groupName = constants.DefaultConsumerGroup
	}
	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(mc.NameServers)),
		consumer.WithGroupName(groupName),
		consumer.WithRetry(int(mc.RetryTimes)),
		consumer.WithConsumeMessageBatchMaxSize(mqConsumeBatchSize),
	)
	if err != nil {
		helper.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: helper}
	}

	return &MQConsumerServer{
		c:        r,
		events:   events,
		topic:    topicOr(mc.Topic, constants.DefaultChargeTopic),
		dlqTopic: topicOr(mc.DlqTopic, constants.DefaultChargeDlqTopic),
		log:      helper,
		enabled:  true,
	}
}

func topicOr(topic, fallback string) string {
	if topic == "" {
		return fallback
	}
	return topic
}

// Start starts the consumer
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s, dlq_topic: %s", s.topic, s.dlqTopic)

	if err := s.c.Subscribe(s.topic, consumer.MessageSelector{}, s.handlePrimary); err != nil {
		// 不返回错误，避免 RocketMQ 不可用时整个应用启动失败
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.topic, err)
		return nil
	}
	if err := s.c.Subscribe(s.dlqTopic, consumer.MessageSelector{}, s.handleDeadLetter); err != nil {
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.dlqTopic, err)
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop stops the consumer
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handlePrimary(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	return s.consume(ctx, false, msgs)
}

func (s *MQConsumerServer) handleDeadLetter(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	return s.consume(ctx, true, msgs)
}

// consume 批内逐条处理；任一条需要重投时整批重投
func (s *MQConsumerServer) consume(ctx context.Context, deadLetter bool, msgs []*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		if err := dispatchChargeEvent(ctx, s.events, deadLetter, msg.Body, s.log); err != nil {
			s.log.Errorf("Handle charge event failed: topic=%s, msg_id=%s, error=%v", msg.Topic, msg.MsgId, err)
			return consumer.ConsumeRetryLater, nil
		}
	}
	return consumer.ConsumeSuccess, nil
}
