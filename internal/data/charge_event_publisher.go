package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// chargeEventPublisher 扣费事件发布：优先 RocketMQ，其次 Kafka
type chargeEventPublisher struct {
	data       *Data
	topic      string
	dlqTopic   string
	delayLevel int
	log        *log.Helper
}

// NewChargeEventPublisher 创建事件发布器；两种通道都未启用时 Enabled 返回 false
func NewChargeEventPublisher(data *Data, c *conf.Bootstrap, logger log.Logger) biz.ChargeEventPublisher {
	p := &chargeEventPublisher{
		data:     data,
		topic:    constants.DefaultChargeTopic,
		dlqTopic: constants.DefaultChargeDlqTopic,
		log:      log.NewHelper(logger),
	}
	if c != nil && c.Data != nil && c.Data.Rocketmq != nil {
		p.topic = topicOr(c.Data.Rocketmq.Topic, p.topic)
		p.dlqTopic = topicOr(c.Data.Rocketmq.DlqTopic, p.dlqTopic)
		p.delayLevel = c.Data.Rocketmq.DlqDelayLevel
	}
	return p
}

func topicOr(topic, fallback string) string {
	if topic == "" {
		return fallback
	}
	return topic
}

func (p *chargeEventPublisher) Enabled() bool {
	return p.data.mq != nil || p.data.kafkaPrimary != nil
}

func (p *chargeEventPublisher) PublishPrimary(ctx context.Context, evt *biz.ChargeEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if p.data.mq != nil {
		return p.sendRocketMQ(ctx, primitive.NewMessage(p.topic, body), evt)
	}
	if p.data.kafkaPrimary != nil {
		return p.data.kafkaPrimary.WriteMessages(ctx, kafka.Message{
			Key:   []byte(evt.ChargeUserID),
			Value: body,
		})
	}
	return fmt.Errorf("no charge event channel configured")
}

// PublishDeadLetter RocketMQ 使用延时等级；Kafka 在消息头中携带最早处理时间，由消费端等待
func (p *chargeEventPublisher) PublishDeadLetter(ctx context.Context, evt *biz.ChargeEvent, delay time.Duration) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if p.data.mq != nil {
		msg := primitive.NewMessage(p.dlqTopic, body)
		if p.delayLevel > 0 {
			msg.WithDelayTimeLevel(p.delayLevel)
		}
		return p.sendRocketMQ(ctx, msg, evt)
	}
	if p.data.kafkaDlq != nil {
		notBefore := time.Now().Add(delay).Format(time.RFC3339Nano)
		return p.data.kafkaDlq.WriteMessages(ctx, kafka.Message{
			Key:     []byte(evt.ChargeUserID),
			Value:   body,
			Headers: []kafka.Header{{Key: constants.HeaderNotBefore, Value: []byte(notBefore)}},
		})
	}
	return fmt.Errorf("no dead letter channel configured")
}

func (p *chargeEventPublisher) sendRocketMQ(ctx context.Context, msg *primitive.Message, evt *biz.ChargeEvent) error {
	msg.WithKeys([]string{evt.EventID})
	msg.WithShardingKey(evt.ChargeUserID)
	res, err := p.data.mq.SendSync(ctx, msg)
	if err != nil {
		p.log.Errorf("Send RocketMQ failed: topic=%s, event_id=%s, error=%v", msg.Topic, evt.EventID, err)
		return err
	}
	if res.Status != primitive.SendOK {
		return fmt.Errorf("rocketmq send status %d for event %s", res.Status, evt.EventID)
	}
	return nil
}
