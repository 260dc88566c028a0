// Package btree implements an in-memory B-tree (Cormen et al., 2009) whose nodes
// live in a growable arena and refer to each other by uint32 handle.
//
// Every key carries an associated index. Deletion is not supported.
package btree

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"

	"learnedindex/pkg/common"
)

// BTree maps keys to indices. Nodes and children arrays are stored in two arenas;
// only internal nodes own a children array.
//
// A BTree is built by a single writer. Once insertion stops it may be searched
// concurrently without locking.
type BTree[K constraints.Ordered, I any] struct {
	nodes    []node[K, I]
	children [][maxChildren]uint32
	root     uint32
	size     int
}

// Exact is the instantiation used as the exact index over a dataset.
type Exact = BTree[common.KeyType, common.Position]

// New returns a tree consisting of a single empty leaf root.
func New[K constraints.Ordered, I any]() *BTree[K, I] {
	t := &BTree[K, I]{}
	t.root = t.allocNode()
	return t
}

// NewExact returns an empty key→position tree.
func NewExact() *Exact {
	return New[common.KeyType, common.Position]()
}

// BuildExact inserts (keys[i], i) for every i in order.
func BuildExact(keys []common.KeyType) *Exact {
	t := NewExact()
	for i, k := range keys {
		t.Insert(k, common.Position(i))
	}
	return t
}

func (t *BTree[K, I]) allocNode() uint32 {
	h := uint32(len(t.nodes))
	t.nodes = append(t.nodes, node[K, I]{children: leaf})
	return h
}

func (t *BTree[K, I]) allocChildren() uint32 {
	h := uint32(len(t.children))
	t.children = append(t.children, [maxChildren]uint32{})
	return h
}

// Search returns an index inserted under key. With duplicate keys, which of the
// equal entries is returned is unspecified.
func (t *BTree[K, I]) Search(key K) (I, bool) {
	x := t.root
	for {
		n := &t.nodes[x]
		i := 0
		for ; i < int(n.count); i++ {
			if key == n.keys[i] {
				return n.indices[i], true
			}
			if key < n.keys[i] {
				break
			}
		}
		if n.isLeaf() {
			var zero I
			return zero, false
		}
		x = t.children[n.children][i]
	}
}

// Insert adds key mapped to index. Duplicate keys are kept side by side.
func (t *BTree[K, I]) Insert(key K, index I) {
	r := t.root
	if t.nodes[r].count == maxKeys {
		s := t.allocNode()
		h := t.allocChildren()
		t.nodes[s].children = h
		t.children[h][0] = r
		t.root = s
		t.splitChild(s, 0)
		r = s
	}
	t.insertNonFull(r, key, index)
	t.size++
}

// splitChild splits the full i-th child of x. The upper T-1 keys (and, for an
// internal child, the upper T children) move to a new right sibling and the median
// is promoted into x at slot i.
func (t *BTree[K, I]) splitChild(x uint32, i int) {
	y := t.children[t.nodes[x].children][i]
	z := t.allocNode()

	yn := &t.nodes[y]
	zn := &t.nodes[z]
	copy(zn.keys[:T-1], yn.keys[T:])
	copy(zn.indices[:T-1], yn.indices[T:])
	zn.count = T - 1

	if !yn.isLeaf() {
		h := t.allocChildren()
		zn.children = h
		copy(t.children[h][:T], t.children[yn.children][T:])
		clear(t.children[yn.children][T:])
	}

	xn := &t.nodes[x]
	n := int(xn.count)
	xc := &t.children[xn.children]
	copy(xc[i+2:n+2], xc[i+1:n+1])
	xc[i+1] = z
	copy(xn.keys[i+1:n+1], xn.keys[i:n])
	copy(xn.indices[i+1:n+1], xn.indices[i:n])
	xn.keys[i] = yn.keys[T-1]
	xn.indices[i] = yn.indices[T-1]
	xn.count++

	yn.count = T - 1
	clear(yn.keys[T-1:])
	clear(yn.indices[T-1:])
}

func (t *BTree[K, I]) insertNonFull(x uint32, key K, index I) {
	for {
		n := &t.nodes[x]
		i := int(n.count) - 1
		if n.isLeaf() {
			for i >= 0 && key < n.keys[i] {
				n.keys[i+1] = n.keys[i]
				n.indices[i+1] = n.indices[i]
				i--
			}
			n.keys[i+1] = key
			n.indices[i+1] = index
			n.count++
			return
		}

		for i >= 0 && key < n.keys[i] {
			i--
		}
		i++
		c := t.children[n.children][i]
		if t.nodes[c].count == maxKeys {
			// splitChild grows the arena; n is stale afterwards.
			t.splitChild(x, i)
			if key > t.nodes[x].keys[i] {
				i++
			}
			c = t.children[t.nodes[x].children][i]
		}
		x = c
	}
}

// Len returns the number of inserted entries.
func (t *BTree[K, I]) Len() int {
	return t.size
}

// Height returns the number of levels; a tree with only a root has height 1.
func (t *BTree[K, I]) Height() int {
	h := 1
	for x := t.root; !t.nodes[x].isLeaf(); h++ {
		x = t.children[t.nodes[x].children][0]
	}
	return h
}

// NodeCount returns the size of the node arena.
func (t *BTree[K, I]) NodeCount() int {
	return len(t.nodes)
}

// Ascend calls fn for every entry in key order until fn returns false.
func (t *BTree[K, I]) Ascend(fn func(key K, index I) bool) {
	t.ascend(t.root, fn)
}

func (t *BTree[K, I]) ascend(x uint32, fn func(K, I) bool) bool {
	n := &t.nodes[x]
	for i := 0; i < int(n.count); i++ {
		if !n.isLeaf() && !t.ascend(t.children[n.children][i], fn) {
			return false
		}
		if !fn(n.keys[i], n.indices[i]) {
			return false
		}
	}
	if !n.isLeaf() {
		return t.ascend(t.children[n.children][n.count], fn)
	}
	return true
}

// Eval satisfies the indexed lookup capability.
func (t *BTree[K, I]) Eval(key K) (I, bool) {
	return t.Search(key)
}

func (t *BTree[K, I]) Size() int {
	return t.size
}

func (t *BTree[K, I]) Type() string {
	return "BTree"
}

func (t *BTree[K, I]) String() string {
	return fmt.Sprintf("BTree{entries: %d, nodes: %d, height: %d}", t.size, len(t.nodes), t.Height())
}

// Check verifies the structural invariants: handles are in range, every non-root
// node holds between T-1 and 2T-1 keys, keys are non-decreasing within a node and
// bounded by their separators, an internal node with k keys has k+1 children, and
// every leaf sits at the same depth.
func (t *BTree[K, I]) Check() error {
	if int(t.root) >= len(t.nodes) {
		return errors.Errorf("btree: root handle %d out of range (%d nodes)", t.root, len(t.nodes))
	}
	c := checker[K, I]{t: t, leafDepth: -1}
	if err := c.walk(t.root, 0, nil, nil); err != nil {
		return err
	}
	if c.entries != t.size {
		return errors.Errorf("btree: found %d entries, expected %d", c.entries, t.size)
	}
	return nil
}

type checker[K constraints.Ordered, I any] struct {
	t         *BTree[K, I]
	leafDepth int
	entries   int
}

func (c *checker[K, I]) walk(x uint32, depth int, lo, hi *K) error {
	t := c.t
	if int(x) >= len(t.nodes) {
		return errors.Errorf("btree: node handle %d out of range (%d nodes)", x, len(t.nodes))
	}
	n := &t.nodes[x]
	if n.count > maxKeys {
		return errors.Errorf("btree: node %d holds %d keys", x, n.count)
	}
	if x != t.root && n.count < T-1 {
		return errors.Errorf("btree: non-root node %d holds %d keys, minimum is %d", x, n.count, T-1)
	}

	keys := n.liveKeys()
	for i, k := range keys {
		if i > 0 && k < keys[i-1] {
			return errors.Errorf("btree: node %d keys out of order at slot %d", x, i)
		}
		if (lo != nil && k < *lo) || (hi != nil && k > *hi) {
			return errors.Errorf("btree: node %d key at slot %d escapes its separators", x, i)
		}
	}
	c.entries += len(keys)

	if n.isLeaf() {
		if c.leafDepth < 0 {
			c.leafDepth = depth
		} else if c.leafDepth != depth {
			return errors.Errorf("btree: leaf %d at depth %d, expected %d", x, depth, c.leafDepth)
		}
		return nil
	}

	if int(n.children) >= len(t.children) {
		return errors.Errorf("btree: children handle %d of node %d out of range", n.children, x)
	}
	if n.count == 0 {
		return errors.Errorf("btree: internal node %d has no keys", x)
	}
	children := t.children[n.children]
	for i := 0; i <= int(n.count); i++ {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = &keys[i-1]
		}
		if i < int(n.count) {
			childHi = &keys[i]
		}
		if err := c.walk(children[i], depth+1, childLo, childHi); err != nil {
			return err
		}
	}
	return nil
}
