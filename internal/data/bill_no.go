package data

import (
	"credit-service/internal/biz"
	"credit-service/internal/conf"
	"credit-service/internal/constants"

	"github.com/bwmarrin/snowflake"
)

type billNoGenerator struct {
	node *snowflake.Node
}

// NewBillNoGenerator 基于 snowflake 的账单号，多实例部署时 snowflake_node 需各不相同
func NewBillNoGenerator(c *conf.Bootstrap) (biz.BillNoGenerator, error) {
	var nodeID int64 = 1
	if c != nil && c.Billing != nil && c.Billing.SnowflakeNode > 0 {
		nodeID = c.Billing.SnowflakeNode
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &billNoGenerator{node: node}, nil
}

func (g *billNoGenerator) NextBillNo() string {
	return constants.BillNoPrefix + g.node.Generate().String()
}
