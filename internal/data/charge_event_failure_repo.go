package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// chargeEventFailureRepo 重放耗尽事件存储
type chargeEventFailureRepo struct {
	data *Data
	log  *log.Helper
}

// NewChargeEventFailureRepo 创建失败事件 repo
func NewChargeEventFailureRepo(data *Data, logger log.Logger) biz.ChargeEventFailureRepo {
	return &chargeEventFailureRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *chargeEventFailureRepo) Save(ctx context.Context, f *biz.ChargeEventFailure) error {
	payload, err := json.Marshal(f.Event)
	if err != nil {
		return err
	}
	m := &model.ChargeEventFailure{
		EventID:    f.EventID,
		Payload:    string(payload),
		RetryCount: f.RetryCount,
		LastError:  f.LastError,
		Resolved:   f.Resolved,
		ResolvedAt: f.ResolvedAt,
	}
	return r.data.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "retry_count", "last_error", "resolved", "resolved_at"}),
	}).Create(m).Error
}

func (r *chargeEventFailureRepo) Get(ctx context.Context, eventID string) (*biz.ChargeEventFailure, error) {
	var m model.ChargeEventFailure
	if err := r.data.db.WithContext(ctx).Where("event_id = ?", eventID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, creditErrors.ErrFailureNotFound.WithMetadata(map[string]string{"event_id": eventID})
		}
		return nil, err
	}
	return r.toBiz(&m), nil
}

func (r *chargeEventFailureRepo) ListUnresolved(ctx context.Context, limit int) ([]*biz.ChargeEventFailure, error) {
	var ms []model.ChargeEventFailure
	if err := r.data.db.WithContext(ctx).Where("resolved = ?", false).
		Order("created_at").Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*biz.ChargeEventFailure, 0, len(ms))
	for i := range ms {
		out = append(out, r.toBiz(&ms[i]))
	}
	return out, nil
}

func (r *chargeEventFailureRepo) MarkResolved(ctx context.Context, eventID string) error {
	result := r.data.db.WithContext(ctx).Model(&model.ChargeEventFailure{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return creditErrors.ErrFailureNotFound.WithMetadata(map[string]string{"event_id": eventID})
	}
	return nil
}

func (r *chargeEventFailureRepo) toBiz(m *model.ChargeEventFailure) *biz.ChargeEventFailure {
	f := &biz.ChargeEventFailure{
		EventID:    m.EventID,
		RetryCount: m.RetryCount,
		LastError:  m.LastError,
		Resolved:   m.Resolved,
		CreatedAt:  m.CreatedAt,
		ResolvedAt: m.ResolvedAt,
	}
	var evt biz.ChargeEvent
	if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
		r.log.Errorf("corrupt charge event payload: event_id=%s, error=%v", m.EventID, err)
	} else {
		f.Event = &evt
	}
	return f
}
