package btree

import "golang.org/x/exp/constraints"

const (
	// T is the minimum degree. Node layout depends on it, so it is fixed at compile time.
	T = 8

	maxKeys     = 2*T - 1
	maxChildren = 2 * T

	// leaf marks a node without a children-array record.
	leaf = ^uint32(0)
)

// node is a fixed-size record in the node arena. children is either leaf or a handle
// into the children arena.
type node[K constraints.Ordered, I any] struct {
	keys     [maxKeys]K
	indices  [maxKeys]I
	count    uint32
	children uint32
}

func (n *node[K, I]) isLeaf() bool {
	return n.children == leaf
}

func (n *node[K, I]) liveKeys() []K {
	return n.keys[:n.count]
}
