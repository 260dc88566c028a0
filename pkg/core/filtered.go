package core

import (
	"fmt"

	"learnedindex/pkg/common"
	"learnedindex/pkg/core/structure"
)

// Filtered answers absence from a bloom filter before consulting the wrapped index.
type Filtered struct {
	inner Index
	bloom *structure.BloomFilter
}

// NewFiltered builds a filter over keys (normally the dataset the index was built on).
func NewFiltered(inner Index, keys []common.KeyType, falseProb float64) *Filtered {
	bf := structure.NewBloomFilter(uint(len(keys)), falseProb)
	for _, k := range keys {
		bf.Add(k)
	}
	return &Filtered{inner: inner, bloom: bf}
}

func (f *Filtered) Eval(key common.KeyType) (common.Position, bool) {
	if !f.bloom.Contains(key) {
		return 0, false
	}
	return f.inner.Eval(key)
}

// EvalMany forwards only keys that pass the filter, keeping the inner batch path.
func (f *Filtered) EvalMany(keys []common.KeyType, out []common.Lookup) {
	pass := make([]common.KeyType, 0, len(keys))
	slots := make([]int, 0, len(keys))
	for i, k := range keys {
		out[i] = common.Lookup{}
		if f.bloom.Contains(k) {
			pass = append(pass, k)
			slots = append(slots, i)
		}
	}
	if len(pass) == 0 {
		return
	}
	res := make([]common.Lookup, len(pass))
	EvalMany(f.inner, pass, res)
	for j, i := range slots {
		out[i] = res[j]
	}
}

func (f *Filtered) Size() int { return f.inner.Size() }

func (f *Filtered) Type() string { return fmt.Sprintf("Filtered(%s)", f.inner.Type()) }

func (f *Filtered) Unwrap() Index { return f.inner }

func (f *Filtered) FilterStats() map[string]interface{} {
	return f.bloom.Stats()
}
