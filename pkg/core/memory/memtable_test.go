package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
)

func TestMemTableKeepsDuplicatesInOrder(t *testing.T) {
	mt := NewMemTable(4)
	for _, k := range []common.KeyType{5, 1, 3, 3, 9, 1} {
		require.NoError(t, mt.Put(k))
	}
	assert.Equal(t, 6, mt.Count())
	assert.Equal(t, []common.KeyType{1, 1, 3, 3, 5, 9}, mt.Keys())
	assert.True(t, mt.Contains(3))
	assert.False(t, mt.Contains(4))
	assert.False(t, mt.Contains(10))
}

func TestMemTableRejectsNaN(t *testing.T) {
	mt := NewMemTable(4)
	assert.Equal(t, ErrInvalidKey, mt.Put(common.KeyType(math.NaN())))
	assert.Zero(t, mt.Count())
}

func TestMemTableMerge(t *testing.T) {
	mt := NewMemTable(8)
	for _, k := range []common.KeyType{0.5, 2, 7, 2} {
		require.NoError(t, mt.Put(k))
	}
	base := []common.KeyType{1, 2, 3}
	merged := mt.Merge(base)
	assert.Equal(t, []common.KeyType{0.5, 1, 2, 2, 2, 3, 7}, merged)
	assert.Equal(t, []common.KeyType{1, 2, 3}, base)

	mt.Reset()
	assert.Zero(t, mt.Count())
	assert.Equal(t, base, mt.Merge(base))
}
