package memory

import (
	"math"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"learnedindex/pkg/common"
)

var ErrInvalidKey = errors.New("memtable: NaN is not a valid key")

// Item 按 (Key, Seq) 排序, Seq 让重复 key 各自保留
type Item struct {
	Key common.KeyType
	Seq uint64
}

func (i Item) Less(than btree.Item) bool {
	o := than.(Item)
	if i.Key != o.Key {
		return i.Key < o.Key
	}
	return i.Seq < o.Seq
}

// MemTable 暂存摄入的 key, 直到下一次重建索引
type MemTable struct {
	tree *btree.BTree
	lock sync.RWMutex
	seq  uint64
}

func NewMemTable(degree int) *MemTable {
	return &MemTable{
		tree: btree.New(degree),
	}
}

func (mt *MemTable) Put(key common.KeyType) error {
	if math.IsNaN(float64(key)) {
		return ErrInvalidKey
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()

	mt.seq++
	mt.tree.ReplaceOrInsert(Item{Key: key, Seq: mt.seq})
	return nil
}

// Contains 查找是否已暂存
func (mt *MemTable) Contains(key common.KeyType) bool {
	mt.lock.RLock()
	defer mt.lock.RUnlock()

	found := false
	mt.tree.AscendGreaterOrEqual(Item{Key: key}, func(i btree.Item) bool {
		found = i.(Item).Key == key
		return false
	})
	return found
}

func (mt *MemTable) Iterator(fn func(key common.KeyType) bool) {
	mt.lock.RLock()
	defer mt.lock.RUnlock()

	mt.tree.Ascend(func(i btree.Item) bool {
		return fn(i.(Item).Key)
	})
}

// Keys 返回有序 key (含重复)
func (mt *MemTable) Keys() []common.KeyType {
	keys := make([]common.KeyType, 0, mt.Count())
	mt.Iterator(func(key common.KeyType) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Merge 归并已排序的数据集与暂存 key, 返回新的有序数据集; 原切片不变
func (mt *MemTable) Merge(sorted []common.KeyType) []common.KeyType {
	staged := mt.Keys()
	out := make([]common.KeyType, 0, len(sorted)+len(staged))
	i, j := 0, 0
	for i < len(sorted) && j < len(staged) {
		if staged[j] < sorted[i] {
			out = append(out, staged[j])
			j++
		} else {
			out = append(out, sorted[i])
			i++
		}
	}
	out = append(out, sorted[i:]...)
	return append(out, staged[j:]...)
}

func (mt *MemTable) Count() int {
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.tree.Len()
}

// Reset 清空暂存区 (重建完成后调用)
func (mt *MemTable) Reset() {
	mt.lock.Lock()
	defer mt.lock.Unlock()
	mt.tree.Clear(false)
}
