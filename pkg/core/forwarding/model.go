// Package forwarding composes a router network with one exact B-tree per bucket.
// A lookup runs the router once, maps its output to a bucket and searches only
// that bucket's tree.
package forwarding

import (
	"context"
	"runtime"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"learnedindex/pkg/common"
	"learnedindex/pkg/core/btree"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/model"
)

// Params are the decoded trained parameters consumed by Build.
type Params = model.Params

var (
	ErrNoBuckets          = model.ErrNoBuckets
	ErrPositionOutOfRange = errors.New("forwarding: bucket position outside the dataset")
)

var log = logger.For("forwarding")

// Model is immutable after construction and safe for concurrent lookups.
type Model struct {
	router        *model.Network
	buckets       []*btree.Exact
	maxPrediction common.Position
	size          int
}

type buildConfig struct {
	workers int
}

type BuildOption func(*buildConfig)

// WithWorkers bounds the number of buckets built at once.
func WithWorkers(n int) BuildOption {
	return func(c *buildConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New assembles a model from a router and prebuilt buckets.
func New(router *model.Network, buckets []*btree.Exact, maxPrediction common.Position) (*Model, error) {
	if len(buckets) == 0 {
		return nil, ErrNoBuckets
	}
	if router.Inputs() != 1 {
		return nil, &model.DimensionMismatchError{Layer: 0, Expected: 1, Actual: router.Inputs()}
	}
	m := &Model{
		router:        router,
		buckets:       buckets,
		maxPrediction: maxPrediction,
	}
	for _, b := range buckets {
		m.size += b.Len()
	}
	return m, nil
}

// Build validates params against dataset and builds one tree per bucket by inserting
// (dataset[p], p) for each listed position in order. Buckets are built concurrently,
// each by a single goroutine.
func Build(ctx context.Context, dataset []common.KeyType, params *Params, opts ...BuildOption) (*Model, error) {
	cfg := buildConfig{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}

	router, err := params.Network()
	if err != nil {
		return nil, errors.Wrap(err, "forwarding: router")
	}
	if len(params.Buckets) == 0 {
		return nil, ErrNoBuckets
	}

	covered := roaring.New()
	listed := 0
	var maxPrediction common.Position
	for b, positions := range params.Buckets {
		for slot, p := range positions {
			if int(p) >= len(dataset) {
				return nil, errors.Wrapf(ErrPositionOutOfRange,
					"bucket %d slot %d: position %d, dataset has %d keys", b, slot, p, len(dataset))
			}
			if p > maxPrediction {
				maxPrediction = p
			}
			covered.Add(uint32(p))
		}
		listed += len(positions)
	}

	buckets := make([]*btree.Exact, len(params.Buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for b := range params.Buckets {
		b := b
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t := btree.NewExact()
			for _, p := range params.Buckets[b] {
				t.Insert(dataset[p], p)
			}
			buckets[b] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "forwarding: build buckets")
	}

	m, err := New(router, buckets, maxPrediction)
	if err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"buckets":  len(buckets),
		"entries":  listed,
		"covered":  covered.GetCardinality(),
		"dataset":  len(dataset),
		"max_pred": maxPrediction,
	}
	if uncovered := uint64(len(dataset)) - covered.GetCardinality(); uncovered > 0 {
		log.WithFields(fields).Warnf("%d dataset positions are not indexed by any bucket", uncovered)
	} else {
		log.WithFields(fields).Info("forwarding model built")
	}
	return m, nil
}

// BucketFor maps a router prediction to a bucket index, always in range.
func (m *Model) BucketFor(prediction float32) int {
	return model.BucketIndex(prediction, m.maxPrediction, len(m.buckets))
}

// Route returns the bucket a key is searched in.
func (m *Model) Route(key common.KeyType) int {
	return m.BucketFor(m.router.Apply(key))
}

func (m *Model) Eval(key common.KeyType) (common.Position, bool) {
	return m.buckets[m.Route(key)].Search(key)
}

// EvalMany evaluates keys into out reusing one scratch pair for the whole batch.
func (m *Model) EvalMany(keys []common.KeyType, out []common.Lookup) {
	_ = out[:len(keys)]
	pool := m.router.Scratch()
	s := pool.Acquire()
	for i, k := range keys {
		b := m.BucketFor(m.router.ApplyBuffer(k, s.A, s.B))
		pos, ok := m.buckets[b].Search(k)
		out[i] = common.Lookup{Pos: pos, Found: ok}
	}
	pool.Release(s)
}

// EvalParallel splits the batch into at most workers contiguous chunks evaluated
// concurrently, each with its own scratch pair.
func (m *Model) EvalParallel(ctx context.Context, keys []common.KeyType, out []common.Lookup, workers int) error {
	_ = out[:len(keys)]
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(keys) + workers - 1) / workers
	if chunk == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(keys); lo += chunk {
		lo := lo
		hi := min(lo+chunk, len(keys))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.EvalMany(keys[lo:hi], out[lo:hi])
			return nil
		})
	}
	return g.Wait()
}

func (m *Model) Router() *model.Network { return m.router }

func (m *Model) Buckets() []*btree.Exact { return m.buckets }

func (m *Model) MaxPrediction() common.Position { return m.maxPrediction }

// BucketSizes returns the number of entries in each bucket.
func (m *Model) BucketSizes() []int {
	sizes := make([]int, len(m.buckets))
	for i, b := range m.buckets {
		sizes[i] = b.Len()
	}
	return sizes
}

// Size is the total number of entries across buckets.
func (m *Model) Size() int { return m.size }

func (m *Model) Type() string { return "Forwarding" }
