package btree

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
)

func TestEmptyTree(t *testing.T) {
	tr := NewExact()
	_, ok := tr.Search(1)
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 1, tr.Height())
	require.NoError(t, tr.Check())
}

func TestInsertSequential(t *testing.T) {
	tr := NewExact()
	for i := 0; i <= 500; i++ {
		tr.Insert(common.KeyType(i), common.Position(i))
	}
	require.NoError(t, tr.Check())

	pos, ok := tr.Search(250.0)
	require.True(t, ok)
	assert.Equal(t, common.Position(250), pos)

	_, ok = tr.Search(10000.0)
	assert.False(t, ok)

	for i := 0; i <= 500; i++ {
		pos, ok := tr.Search(common.KeyType(i))
		require.True(t, ok, "key %d", i)
		assert.Equal(t, common.Position(i), pos)
	}
}

func TestInsertDescending(t *testing.T) {
	tr := New[int, int]()
	for i := 1000; i > 0; i-- {
		tr.Insert(i, -i)
	}
	require.NoError(t, tr.Check())
	for i := 1; i <= 1000; i++ {
		v, ok := tr.Search(i)
		require.True(t, ok)
		assert.Equal(t, -i, v)
	}
	_, ok := tr.Search(0)
	assert.False(t, ok)
	_, ok = tr.Search(1001)
	assert.False(t, ok)
}

func TestRandomInsertionsAgainstOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New[float32, uint32]()
	oracle := make(map[float32][]uint32)

	for i := 0; i < 5000; i++ {
		k := float32(rng.Intn(2000)) / 4
		tr.Insert(k, uint32(i))
		oracle[k] = append(oracle[k], uint32(i))
	}
	require.NoError(t, tr.Check())
	assert.Equal(t, 5000, tr.Len())

	for k, positions := range oracle {
		got, ok := tr.Search(k)
		require.True(t, ok, "key %v", k)
		assert.Contains(t, positions, got, "key %v returned a position never inserted under it", k)
	}

	for i := 0; i < 1000; i++ {
		k := float32(rng.Intn(2000))/4 + 0.125
		_, ok := tr.Search(k)
		assert.False(t, ok, "key %v was never inserted", k)
	}
}

func TestAscendYieldsSortedEntries(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tr := New[float32, int]()
	const n = 3000
	for i := 0; i < n; i++ {
		tr.Insert(rng.Float32()*100, i)
	}

	var keys []float32
	tr.Ascend(func(k float32, _ int) bool {
		keys = append(keys, k)
		return true
	})
	assert.Len(t, keys, n)
	assert.True(t, sort.SliceIsSorted(keys, func(i, j int) bool { return keys[i] < keys[j] }))

	seen := 0
	tr.Ascend(func(float32, int) bool {
		seen++
		return seen < 10
	})
	assert.Equal(t, 10, seen)
}

func TestNodeOccupancyAndLeafDepth(t *testing.T) {
	for _, n := range []int{1, 15, 16, 17, 100, 1024, 4097} {
		tr := New[int, int]()
		for i := 0; i < n; i++ {
			tr.Insert((i*7919)%n, i)
		}
		require.NoError(t, tr.Check(), "n=%d", n)

		// Every non-root node stays within [T-1, 2T-1]; internal nodes own k+1 children.
		for h := range tr.nodes {
			nd := &tr.nodes[h]
			if uint32(h) != tr.root {
				assert.GreaterOrEqual(t, int(nd.count), T-1)
			}
			assert.LessOrEqual(t, int(nd.count), 2*T-1)
		}
	}
}

func TestDuplicateKeys(t *testing.T) {
	tr := NewExact()
	for i := 0; i < 200; i++ {
		tr.Insert(common.KeyType(i/10), common.Position(i))
	}
	require.NoError(t, tr.Check())

	for k := 0; k < 20; k++ {
		pos, ok := tr.Search(common.KeyType(k))
		require.True(t, ok)
		assert.Equal(t, k, int(pos)/10, "key %d mapped to position %d", k, pos)
	}
}

func TestSkewedDataset(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]common.KeyType, 10000)
	for i := range data {
		data[i] = common.KeyType(math.Exp(rng.NormFloat64() * 0.25))
	}
	sort.Slice(data, func(i, j int) bool { return data[i] < data[j] })

	tr := BuildExact(data)
	require.NoError(t, tr.Check())

	for i, v := range data {
		j, ok := tr.Search(v)
		require.True(t, ok, "value at %d", i)
		assert.Equal(t, v, data[j])
	}
}

func TestNaNKeyIsAbsent(t *testing.T) {
	tr := BuildExact([]common.KeyType{1, 2, 3})
	_, ok := tr.Eval(common.KeyType(math.NaN()))
	assert.False(t, ok)
}

func TestHeightGrows(t *testing.T) {
	tr := New[int, int]()
	for i := 0; i < 2*T-1; i++ {
		tr.Insert(i, i)
	}
	assert.Equal(t, 1, tr.Height())
	tr.Insert(2*T, 0)
	assert.Equal(t, 2, tr.Height())
	assert.Equal(t, 3, tr.NodeCount())
	assert.Equal(t, "BTree", tr.Type())
}
