package server

import (
	"context"
	"encoding/json"
	"errors"

	"credit-service/internal/biz"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// chargeEventHandler 主题与死信主题的消费逻辑
type chargeEventHandler interface {
	HandlePrimary(ctx context.Context, evt *biz.ChargeEvent) error
	HandleDeadLetter(ctx context.Context, evt *biz.ChargeEvent) error
}

// dispatchChargeEvent 解码并处理一条消息，返回 error 表示需要重投。
// 无法解码的消息与死信耗尽的事件均确认消费，后者已落库待人工处理。
func dispatchChargeEvent(ctx context.Context, h chargeEventHandler, deadLetter bool, body []byte, logger *log.Helper) error {
	var evt biz.ChargeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		logger.Errorf("Unmarshal charge event failed: %v, body: %s", err, string(body))
		return nil
	}
	if !deadLetter {
		return h.HandlePrimary(ctx, &evt)
	}
	err := h.HandleDeadLetter(ctx, &evt)
	if errors.Is(err, creditErrors.ErrDlqExhausted) {
		return nil
	}
	return err
}
