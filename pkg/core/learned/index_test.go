package learned

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
	"learnedindex/pkg/model"
)

func lognormal(rng *rand.Rand, n int) []common.KeyType {
	keys := make([]common.KeyType, n)
	for i := range keys {
		keys[i] = common.KeyType(math.Exp(rng.NormFloat64() * 0.25))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func linearNetwork(t *testing.T, keys []common.KeyType) *model.Network {
	t.Helper()
	lm := model.NewLinearModel()
	lm.Train(keys)
	net, err := model.FromParams(lm.RouterLayers())
	require.NoError(t, err)
	return net
}

func TestNeuralIndexFindsEveryKey(t *testing.T) {
	keys := lognormal(rand.New(rand.NewSource(5)), 10000)
	li := Build(keys, linearNetwork(t, keys))
	assert.Equal(t, "Learned-NN", li.Type())
	assert.LessOrEqual(t, li.MinErr, 0)
	assert.GreaterOrEqual(t, li.MaxErr, 0)

	for i, v := range keys {
		j, ok := li.Eval(v)
		require.True(t, ok, "value at %d", i)
		assert.Equal(t, v, keys[j])
	}

	out := make([]common.Lookup, len(keys))
	li.EvalMany(keys, out)
	for i, l := range out {
		require.True(t, l.Found)
		assert.Equal(t, keys[i], keys[l.Pos])
	}

	_, ok := li.Eval(100)
	assert.False(t, ok)
	_, ok = li.Eval(-1)
	assert.False(t, ok)
	_, ok = li.Eval(common.KeyType(math.NaN()))
	assert.False(t, ok)
}

func TestLinearPredictorIndex(t *testing.T) {
	keys := make([]common.KeyType, 300)
	for i := range keys {
		keys[i] = common.KeyType(i * i)
	}
	lm := model.NewLinearModel()
	lm.Train(keys)
	li := Build(keys, lm)
	assert.Equal(t, "Learned-Linear", li.Type())
	assert.Equal(t, 16, li.SizeInBytes())

	for i, k := range keys {
		j, ok := li.Eval(k)
		require.True(t, ok)
		assert.Equal(t, common.Position(i), j)
	}
	_, ok := li.Eval(2)
	assert.False(t, ok)

	out := make([]common.Lookup, 2)
	li.EvalMany([]common.KeyType{4, 5}, out)
	assert.Equal(t, []common.Lookup{{Pos: 2, Found: true}, {}}, out)
}

func TestEmptyIndex(t *testing.T) {
	li := Build(nil, model.NewLinearModel())
	_, ok := li.Eval(1)
	assert.False(t, ok)
	out := []common.Lookup{{Pos: 3, Found: true}}
	li.EvalMany([]common.KeyType{1}, out)
	assert.False(t, out[0].Found)
	assert.Empty(t, li.ExportDiagnostics())
	bin, lrn := li.BenchmarkInternal(10, rand.New(rand.NewSource(1)))
	assert.Zero(t, bin)
	assert.Zero(t, lrn)
}

func TestDiagnosticsAreSampled(t *testing.T) {
	keys := lognormal(rand.New(rand.NewSource(8)), 12000)
	li := Build(keys, linearNetwork(t, keys))

	points := li.ExportDiagnostics()
	assert.LessOrEqual(t, len(points), 6001)
	assert.Greater(t, len(points), 4000)
	for _, p := range points {
		assert.Equal(t, p.RealPos-p.PredictedPos, p.Error)
		assert.GreaterOrEqual(t, p.Error, li.MinErr)
		assert.LessOrEqual(t, p.Error, li.MaxErr)
	}
	assert.Equal(t, li.MaxErr-li.MinErr+1, li.MaxErrorSpan())

	bin, lrn := li.BenchmarkInternal(1000, rand.New(rand.NewSource(2)))
	assert.GreaterOrEqual(t, bin, 0.0)
	assert.GreaterOrEqual(t, lrn, 0.0)
}
