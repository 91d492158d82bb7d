package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// subAccountDirectory 子账户目录（只读）
type subAccountDirectory struct {
	data *Data
}

// NewSubAccountDirectory 创建子账户目录
func NewSubAccountDirectory(data *Data) biz.SubAccountDirectory {
	return &subAccountDirectory{data: data}
}

func (d *subAccountDirectory) ParentOf(ctx context.Context, userID string) (string, bool, error) {
	var m model.SubAccount
	if err := d.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return m.ParentUserID, m.ParentUserID != "", nil
}

// agentHierarchy 代理上级链，读 agent_relation 并缓存到 Redis
type agentHierarchy struct {
	data *Data
	ttl  time.Duration
	log  *log.Helper
}

// NewAgentHierarchy 创建代理关系查询
func NewAgentHierarchy(data *Data, c *biz.BillingConfig, logger log.Logger) biz.AgentHierarchy {
	return &agentHierarchy{
		data: data,
		ttl:  c.AgentChainCacheTTL,
		log:  log.NewHelper(logger),
	}
}

func agentChainKey(userID string) string {
	return fmt.Sprintf("%s%s", constants.RedisKeyAgentChain, userID)
}

func (h *agentHierarchy) AncestorChain(ctx context.Context, userID string) ([]biz.AgentAncestor, error) {
	if h.data.rdb != nil {
		s, err := h.data.rdb.Get(ctx, agentChainKey(userID)).Result()
		if err == nil {
			var chain []biz.AgentAncestor
			if err := json.Unmarshal([]byte(s), &chain); err == nil {
				return chain, nil
			}
			h.log.Warnf("invalid cached agent chain: user_id=%s", userID)
		} else if !errors.Is(err, redis.Nil) {
			h.log.Warnf("agent chain cache read failed: user_id=%s, error=%v", userID, err)
		}
	}

	var m model.AgentRelation
	chain := []biz.AgentAncestor{}
	err := h.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to query agent relation: %w", err)
	default:
		// 链在第一个空层级处截断
		for i, agentID := range []string{m.Level1AgentID, m.Level2AgentID, m.Level3AgentID} {
			if agentID == "" {
				break
			}
			chain = append(chain, biz.AgentAncestor{AgentUserID: agentID, Level: i + 1})
		}
	}

	if h.data.rdb != nil {
		b, _ := json.Marshal(chain)
		cacheCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := h.data.rdb.Set(cacheCtx, agentChainKey(userID), b, h.ttl).Err(); err != nil {
			h.log.Warnf("failed to update agent chain cache: user_id=%s, error=%v", userID, err)
		}
	}
	return chain, nil
}
