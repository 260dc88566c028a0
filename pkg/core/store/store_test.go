package store

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core"
	"learnedindex/pkg/core/forwarding"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/model"
	"learnedindex/pkg/modeldesc"
	"learnedindex/pkg/storage"
)

func indexConfig(kind string) config.IndexConfig {
	cfg := config.Default().Index
	cfg.Kind = kind
	cfg.BucketCount = 16
	return cfg
}

func testKeys(n int) []common.KeyType {
	return dataset.GenLogNormal(rand.New(rand.NewSource(17)), n, dataset.DefaultSigma)
}

func TestEveryKindFindsEveryKey(t *testing.T) {
	keys := testKeys(5000)
	for _, kind := range []string{core.KindForwarding, core.KindBTree, core.KindLearned} {
		for _, bloom := range []bool{false, true} {
			cfg := indexConfig(kind)
			cfg.Bloom = bloom
			s, err := New(context.Background(), cfg, keys, nil)
			require.NoError(t, err, kind)

			for i, k := range keys {
				l := s.Eval(k)
				require.True(t, l.Found, "%s: key at %d", kind, i)
				assert.Equal(t, k, keys[l.Pos])
			}

			out, err := s.EvalMany(context.Background(), keys)
			require.NoError(t, err)
			for i, l := range out {
				require.True(t, l.Found, "%s batch: key at %d", kind, i)
				assert.Equal(t, keys[i], keys[l.Pos])
			}

			assert.False(t, s.Eval(-1).Found)
			assert.False(t, s.Eval(common.KeyType(math.NaN())).Found)
		}
	}
}

func TestIngestAndRebuildSwapsIndex(t *testing.T) {
	keys := testKeys(1000)
	s, err := New(context.Background(), indexConfig(core.KindForwarding), keys, nil)
	require.NoError(t, err)

	extra := []common.KeyType{100, 200, 0.001}
	require.NoError(t, s.Ingest(extra))
	for _, k := range extra {
		assert.False(t, s.Eval(k).Found, "staged key %v visible before rebuild", k)
	}
	assert.Equal(t, 3, s.Stats()["staged_keys"])

	res, err := s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Merged)
	assert.Equal(t, 1003, res.Keys)
	assert.Equal(t, "Forwarding", res.Type)

	for _, k := range extra {
		l := s.Eval(k)
		require.True(t, l.Found)
		got, ok := s.KeyAt(l.Pos)
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	for _, k := range keys {
		assert.True(t, s.Eval(k).Found)
	}
	assert.Equal(t, 0, s.Stats()["staged_keys"])
	assert.Equal(t, uint64(1), s.Stats()["rebuilds"])

	err = s.Ingest([]common.KeyType{1, common.KeyType(math.NaN())})
	assert.Equal(t, ErrInvalidKey, errors.Cause(err))
}

func TestLargeBatchUsesParallelPath(t *testing.T) {
	keys := testKeys(parallelThreshold * 2)
	cfg := indexConfig(core.KindForwarding)
	cfg.Workers = 4
	s, err := New(context.Background(), cfg, keys, nil)
	require.NoError(t, err)

	out, err := s.EvalMany(context.Background(), keys)
	require.NoError(t, err)
	for i, l := range out {
		require.True(t, l.Found)
		assert.Equal(t, keys[i], keys[l.Pos])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.EvalMany(ctx, keys)
	assert.Error(t, err)
}

func TestSuppliedParamsAreUsed(t *testing.T) {
	keys := testKeys(2000)
	params, err := model.TrainLinearRouter(keys, 5)
	require.NoError(t, err)

	s, err := New(context.Background(), indexConfig(core.KindForwarding), keys, params)
	require.NoError(t, err)
	got, err := s.ModelParams()
	require.NoError(t, err)
	assert.Same(t, params, got)
	assert.Equal(t, 5, s.Stats()["buckets"])

	bt, err := New(context.Background(), indexConfig(core.KindBTree), keys, nil)
	require.NoError(t, err)
	_, err = bt.ModelParams()
	assert.Equal(t, ErrNoModel, err)
	assert.Nil(t, bt.Export())
}

func TestBenchmarkAndExport(t *testing.T) {
	keys := testKeys(3000)
	for _, kind := range []string{core.KindForwarding, core.KindLearned} {
		s, err := New(context.Background(), indexConfig(kind), keys, nil)
		require.NoError(t, err)

		res, err := s.Benchmark(1000, rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		assert.Equal(t, 1000, res.Iterations)
		assert.GreaterOrEqual(t, res.IndexNs, 0.0)
		if kind == core.KindLearned {
			assert.Greater(t, res.BoundedSearchNs, 0.0)
			assert.Greater(t, res.BinarySearchNs, 0.0)
			assert.Equal(t, 16, s.Stats()["model_bytes"])
		} else {
			assert.Zero(t, res.BoundedSearchNs)
			assert.NotContains(t, s.Stats(), "model_bytes")
		}

		points := s.Export()
		assert.Len(t, points, 3000)
		for _, p := range points {
			assert.Equal(t, p.RealPos-p.PredictedPos, p.Error)
		}
	}

	empty, err := New(context.Background(), indexConfig(core.KindBTree), nil, nil)
	require.NoError(t, err)
	_, err = empty.Benchmark(10, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestOpenPersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	keys := testKeys(500)
	dsPath := filepath.Join(dir, "keys.txt.zst")
	require.NoError(t, dataset.Save(context.Background(), dsPath, config.ObjectStoreConfig{}, keys))

	params, err := model.TrainLinearRouter(keys, 4)
	require.NoError(t, err)
	modelPath := filepath.Join(dir, "model.yaml")
	require.NoError(t, modeldesc.Save(context.Background(), modelPath, config.ObjectStoreConfig{}, params))

	cfg := config.Default()
	cfg.Data.Dir = filepath.Join(dir, "data")
	cfg.Data.Dataset = dsPath
	cfg.Data.Model = modelPath

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Stats()["buckets"])
	require.NoError(t, s.Ingest([]common.KeyType{42}))
	require.NoError(t, s.Close())

	// Staged key survives a restart through the key log.
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats()["staged_keys"])
	assert.False(t, s.Eval(42).Found)

	_, err = s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Eval(42).Found)
	require.NoError(t, s.Close())

	// After a rebuild the snapshot holds the merged dataset and the router is retrained.
	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 501, s.Stats()["dataset_keys"])
	assert.Equal(t, 0, s.Stats()["staged_keys"])
	assert.Equal(t, cfg.Index.BucketCount, s.Stats()["buckets"])
	assert.True(t, s.Eval(42).Found)
}

func TestModelFileWithoutSlopeUsesConfiguredSlope(t *testing.T) {
	keys := testKeys(1000)
	params, err := model.TrainLinearRouter(keys, 4)
	require.NoError(t, err)
	params.LeakySlope = nil

	cfg := indexConfig(core.KindForwarding)
	cfg.LeakySlope = 0
	s, err := New(context.Background(), cfg, keys, params)
	require.NoError(t, err)

	fm := s.current.Load().index.(*forwarding.Model)
	assert.Equal(t, float32(0), fm.Router().Slope())
	got, err := s.ModelParams()
	require.NoError(t, err)
	require.NotNil(t, got.LeakySlope)
	assert.Equal(t, float32(0), *got.LeakySlope)
	assert.Nil(t, params.LeakySlope, "caller's params are not modified")

	for _, k := range keys {
		assert.True(t, s.Eval(k).Found)
	}
}

func TestRestartBeforeKeyLogTruncateDoesNotDuplicate(t *testing.T) {
	dir := t.TempDir()
	dsPath := filepath.Join(dir, "keys.txt")
	require.NoError(t, dataset.Save(context.Background(), dsPath, config.ObjectStoreConfig{}, testKeys(100)))

	cfg := config.Default()
	cfg.Data.Dir = filepath.Join(dir, "data")
	cfg.Data.Dataset = dsPath

	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.Ingest([]common.KeyType{500, 501}))
	logged, err := os.ReadFile(cfg.WALPath())
	require.NoError(t, err)
	require.Len(t, logged, 2*storage.RecordSize)

	res, err := s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 102, res.Keys)
	require.NoError(t, s.Close())

	// Simulate a crash between the snapshot commit and the log truncate.
	require.NoError(t, os.WriteFile(cfg.WALPath(), logged, 0644))

	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 102, s.Stats()["dataset_keys"])
	assert.Equal(t, 0, s.Stats()["staged_keys"])

	res, err = s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Merged)
	assert.Equal(t, 102, res.Keys)

	// Keys ingested after the restart get sequence numbers past the watermark.
	require.NoError(t, s.Ingest([]common.KeyType{600}))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Stats()["staged_keys"])
	res, err = s.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 103, res.Keys)
	assert.True(t, s.Eval(600).Found)
}
