package gen

import (
	"creator-booking/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(ProvideSnowflakeNode))

// ProvideSnowflakeNode builds the id generator for SNOWFLAKE_NODE. Each
// running replica needs a distinct node id.
func ProvideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// IDGenerator produces string ids for new rows.
type IDGenerator interface {
	NewID() string
}

type snowflakeGenerator struct {
	node *snowflake.Node
}

func NewIDGenerator(node *snowflake.Node) IDGenerator {
	return &snowflakeGenerator{node: node}
}

func (g *snowflakeGenerator) NewID() string {
	return g.node.Generate().String()
}
