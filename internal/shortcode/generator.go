package shortcode

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator issues unique short codes from a snowflake node
type Generator struct {
	node *snowflake.Node
}

// NewGenerator creates a generator for the given datacenter and worker.
// Both IDs use 5 bits (0-31) and are combined into the 10-bit node ID.
func NewGenerator(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > 31 {
		return nil, fmt.Errorf("datacenter id %d out of range 0-31", datacenterID)
	}
	if workerID < 0 || workerID > 31 {
		return nil, fmt.Errorf("worker id %d out of range 0-31", workerID)
	}

	node, err := snowflake.NewNode((datacenterID << 5) | workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// Next returns a fresh short code
func (g *Generator) Next() string {
	return EncodeBase62(g.node.Generate().Int64())
}
