package core

import "learnedindex/pkg/common"

// Index 抽象接口，屏蔽 B 树、转发模型与纯神经网络索引的差异
type Index interface {
	Eval(key common.KeyType) (common.Position, bool)
	Size() int
	Type() string // "BTree", "Forwarding", "Learned-NN", "Filtered(...)"
}

// BatchIndex 由能在整批 key 上复用缓冲区的变体实现
type BatchIndex interface {
	EvalMany(keys []common.KeyType, out []common.Lookup)
}

// EvalMany evaluates keys in order into out, which must hold at least len(keys)
// entries. Variants implementing BatchIndex handle the whole batch themselves;
// otherwise every key goes through Eval independently.
func EvalMany(idx Index, keys []common.KeyType, out []common.Lookup) {
	if b, ok := idx.(BatchIndex); ok {
		b.EvalMany(keys, out)
		return
	}
	_ = out[:len(keys)]
	for i, k := range keys {
		pos, ok := idx.Eval(k)
		out[i] = common.Lookup{Pos: pos, Found: ok}
	}
}

// Variant kinds accepted by configuration.
const (
	KindForwarding = "forwarding"
	KindBTree      = "btree"
	KindLearned    = "learned"
)
