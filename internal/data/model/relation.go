package model

// SubAccount 子账户关系（用户模块维护，此处只读）
type SubAccount struct {
	UserID       string `gorm:"primaryKey;type:varchar(36)"`
	ParentUserID string `gorm:"type:varchar(36);not null;index"`
}

// TableName 指定表名
func (SubAccount) TableName() string {
	return "sub_account"
}

// AgentRelation 预计算的三级上级链
type AgentRelation struct {
	UserID        string `gorm:"primaryKey;type:varchar(36)"`
	Level1AgentID string `gorm:"column:level1_agent_id;type:varchar(36)"`
	Level2AgentID string `gorm:"column:level2_agent_id;type:varchar(36)"`
	Level3AgentID string `gorm:"column:level3_agent_id;type:varchar(36)"`
}

// TableName 指定表名
func (AgentRelation) TableName() string {
	return "agent_relation"
}
