// Package idgen hands out monotonically increasing 64-bit ids for one
// group's chat log using a Twitter-snowflake-style generator. Cluster-wide
// message ordering is explicitly out of scope (spec section 1); this only
// guarantees that messages appended to a single group's own log sort in
// append order, including across a node restart.
package idgen

import (
	sf "github.com/tinode/snowflake"
)

// Generator wraps a per-node snowflake sequence.
type Generator struct {
	node *sf.Snowflake
}

// New builds a Generator for this cluster node's ordinal, used as the
// snowflake worker id so two nodes never collide.
func New(nodeOrdinal uint8) (*Generator, error) {
	node, err := sf.New(uint32(nodeOrdinal))
	if err != nil {
		return nil, err
	}
	return &Generator{node: node}, nil
}

// Next returns the next id in the sequence.
func (g *Generator) Next() int64 {
	return int64(g.node.Next())
}
