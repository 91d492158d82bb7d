package model

import "time"

// ChargeEventFailure 死信重放耗尽的扣费事件
type ChargeEventFailure struct {
	EventID    string    `gorm:"primaryKey;type:varchar(128)"`
	Payload    string    `gorm:"type:text;not null"` // ChargeEvent JSON
	RetryCount int       `gorm:"not null;default:0"`
	LastError  string    `gorm:"type:text"`
	Resolved   bool      `gorm:"not null;default:false;index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ResolvedAt *time.Time
}

// TableName 指定表名
func (ChargeEventFailure) TableName() string {
	return "charge_event_failure"
}
