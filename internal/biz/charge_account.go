package biz

import (
	"context"
	"fmt"

	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// ChargeAccount 计费账户（派生，不落库）
type ChargeAccount struct {
	ChargeUserID   string // 实际扣费的账户
	OperatorUserID string // 发起请求的账户
}

// IsSubAccount 请求方是否为子账户
func (c *ChargeAccount) IsSubAccount() bool {
	return c.ChargeUserID != c.OperatorUserID
}

// SubAccountDirectory 子账户目录（由用户模块维护）
type SubAccountDirectory interface {
	// ParentOf 返回子账户的主账户；非子账户返回 ok=false
	ParentOf(ctx context.Context, userID string) (parentID string, ok bool, err error)
}

// ChargeAccountResolver 子账户计费归属解析
type ChargeAccountResolver struct {
	dir SubAccountDirectory
	log *log.Helper
}

// NewChargeAccountResolver 创建解析器
func NewChargeAccountResolver(dir SubAccountDirectory, logger log.Logger) *ChargeAccountResolver {
	return &ChargeAccountResolver{
		dir: dir,
		log: log.NewHelper(logger),
	}
}

// Resolve 子账户计费到主账户，其余计费到自身
func (r *ChargeAccountResolver) Resolve(ctx context.Context, requestUserID string) (*ChargeAccount, error) {
	if requestUserID == "" {
		return nil, creditErrors.ErrInvalidArgument.WithMetadata(map[string]string{"field": "user_id"})
	}
	parentID, ok, err := r.dir.ParentOf(ctx, requestUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve charge account for %s: %w", requestUserID, err)
	}
	if !ok || parentID == "" {
		return &ChargeAccount{ChargeUserID: requestUserID, OperatorUserID: requestUserID}, nil
	}
	r.log.Debugf("sub account billed to parent: user_id=%s, parent_id=%s", requestUserID, parentID)
	return &ChargeAccount{ChargeUserID: parentID, OperatorUserID: requestUserID}, nil
}
