package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentCommissionAccount 代理佣金账户表
type AgentCommissionAccount struct {
	AgentUserID                 string          `gorm:"primaryKey;type:varchar(36)"`
	TotalCommission             decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	AvailableCommission         decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	FrozenCommission            decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	PendingSettlementCommission decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	SettledCommission           decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	Version                     int64           `gorm:"not null;default:0"`
	Status                      string          `gorm:"type:varchar(16);not null;default:'normal'"`
	CreatedAt                   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt                   time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (AgentCommissionAccount) TableName() string {
	return "agent_commission_account"
}

// AgentCommissionRecord 分佣流水表，(trigger, agent, level, direction) 唯一
type AgentCommissionRecord struct {
	RecordID         string          `gorm:"primaryKey;type:varchar(36)"`
	AgentUserID      string          `gorm:"type:varchar(36);not null;uniqueIndex:uk_trigger_agent_level,priority:2;index:idx_agent_time,priority:1"`
	BuyerUserID      string          `gorm:"type:varchar(36);not null"`
	TriggerBillingID string          `gorm:"type:varchar(64);not null;uniqueIndex:uk_trigger_agent_level,priority:1"`
	TriggerAmount    decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	CommissionRate   decimal.Decimal `gorm:"type:decimal(8,6);not null"`
	HierarchyLevel   int             `gorm:"not null;uniqueIndex:uk_trigger_agent_level,priority:3"`
	Direction        string          `gorm:"type:varchar(8);not null;uniqueIndex:uk_trigger_agent_level,priority:4"`
	BusinessType     string          `gorm:"type:varchar(64)"`
	Status           string          `gorm:"type:varchar(16);not null"`
	CreateTime       time.Time       `gorm:"not null;index:idx_agent_time,priority:2"`
}

// TableName 指定表名
func (AgentCommissionRecord) TableName() string {
	return "agent_commission_record"
}

// AgentCommissionSettlement 佣金结算单表
type AgentCommissionSettlement struct {
	SettlementID   string          `gorm:"primaryKey;type:varchar(36)"`
	AgentUserID    string          `gorm:"type:varchar(36);not null;index:idx_agent_status,priority:1"`
	RequestAmount  decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	ApprovedAmount decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0"`
	Status         string          `gorm:"type:varchar(16);not null;index:idx_agent_status,priority:2"`
	Remark         string          `gorm:"type:varchar(255)"`
	ApprovalUserID string          `gorm:"type:varchar(36)"`
	ApprovalRemark string          `gorm:"type:varchar(255)"`
	ApprovalTime   *time.Time
	CreateTime     time.Time `gorm:"not null"`
}

// TableName 指定表名
func (AgentCommissionSettlement) TableName() string {
	return "agent_commission_settlement"
}
