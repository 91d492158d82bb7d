package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 服务启动配置（对应 configs/config.yaml）
type Bootstrap struct {
	Server  *Server  `json:"server"`
	Data    *Data    `json:"data"`
	Billing *Billing `json:"billing"`
	Cron    *Cron    `json:"cron"`
}

// Server 传输层配置
type Server struct {
	Http *Server_HTTP `json:"http"`
}

// Server_HTTP HTTP 服务配置
type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_RocketMQ `json:"rocketmq"`
	Kafka    *Data_Kafka    `json:"kafka"`
}

// Data_Database 数据库配置
type Data_Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Data_Redis Redis 配置
type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int       `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Data_RocketMQ RocketMQ 配置
type Data_RocketMQ struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int32    `json:"retry_times"`
	Topic       string   `json:"topic"`
	DlqTopic    string   `json:"dlq_topic"`
	// DlqDelayLevel RocketMQ 延时等级，决定死信重放的固定退避
	DlqDelayLevel int `json:"dlq_delay_level"`
}

// Data_Kafka Kafka 配置
type Data_Kafka struct {
	Enabled  bool     `json:"enabled"`
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	DlqTopic string   `json:"dlq_topic"`
	GroupID  string   `json:"group_id"`
}

// Billing 计费配置
type Billing struct {
	// Prices 业务类型 -> 单价
	Prices map[string]float64 `json:"prices"`
	// CommissionRates 代理层级("1","2","3") -> 分佣比例
	CommissionRates     map[string]float64 `json:"commission_rates"`
	CommissionScale     int32              `json:"commission_scale"`
	FreeAllowance       int64              `json:"free_allowance"`
	BalanceLowThreshold float64            `json:"balance_low_threshold"`
	MaxCasRetries       int                `json:"max_cas_retries"`
	EventTimeout        *Duration          `json:"event_timeout"`
	DlqMaxReplays       int                `json:"dlq_max_replays"`
	DlqBackoff          *Duration          `json:"dlq_backoff"`
	BalanceCacheTtl     *Duration          `json:"balance_cache_ttl"`
	AgentChainCacheTtl  *Duration          `json:"agent_chain_cache_ttl"`
	SnowflakeNode       int64              `json:"snowflake_node"`
}

// Cron 定时任务配置
type Cron struct {
	DailySettlement    string    `json:"daily_settlement"`
	FreeAllowanceReset string    `json:"free_allowance_reset"`
	LockTtl            *Duration `json:"lock_ttl"`
	JobTimeout         *Duration `json:"job_timeout"`
}

// Duration 支持 "5s"、"1m30s" 形式，也接受以纳秒表示的整数
type Duration struct {
	time.Duration
}

// UnmarshalJSON 解析时长
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// MarshalJSON 输出为字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// AsDuration 返回 time.Duration，nil 时为 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}
