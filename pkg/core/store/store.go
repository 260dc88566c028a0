// Package store serves a frozen index over a sorted dataset. Lookups read the
// current snapshot without locking; ingested keys are staged in a memtable and
// key log until Rebuild builds a new index and swaps it in.
package store

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core"
	"learnedindex/pkg/core/btree"
	"learnedindex/pkg/core/forwarding"
	"learnedindex/pkg/core/learned"
	"learnedindex/pkg/core/memory"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/model"
	"learnedindex/pkg/modeldesc"
	"learnedindex/pkg/monitor"
	"learnedindex/pkg/storage"
)

var (
	ErrInvalidKey = errors.New("store: NaN is not a valid key")
	ErrNoModel    = errors.New("store: current index has no router parameters")
)

// parallelThreshold is the batch size from which forwarding lookups are split
// across workers.
const parallelThreshold = 4096

type snapshot struct {
	index   core.Index
	keys    []common.KeyType
	params  *model.Params
	learned *learned.Index
	built   time.Time
}

type Store struct {
	cfg     config.IndexConfig
	current atomic.Pointer[snapshot]

	mu      sync.Mutex // 序列化 Ingest 与 Rebuild
	mem     *memory.MemTable
	wal     *storage.KeyLog
	backend storage.Backend

	stats *monitor.WorkloadStats
	log   *logrus.Entry
}

// New serves keys (sorted) in memory only. params may be nil, in which case a
// forwarding index trains its own linear router.
func New(ctx context.Context, cfg config.IndexConfig, keys []common.KeyType, params *model.Params) (*Store, error) {
	s := &Store{
		cfg:   cfg,
		mem:   memory.NewMemTable(32),
		stats: monitor.NewWorkloadStats(),
		log:   logger.For("store"),
	}
	snap, err := s.build(ctx, keys, params)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	return s, nil
}

// Open loads the dataset (the SQLite snapshot if one exists, else the configured
// source), replays the key log and builds the first index.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	if dir := filepath.Dir(cfg.WALPath()); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create wal dir")
		}
	}

	backend, err := storage.NewSQLiteBackend(cfg.SQLitePath())
	if err != nil {
		return nil, err
	}
	wal, err := storage.OpenKeyLog(cfg.WALPath())
	if err != nil {
		backend.Close()
		return nil, errors.Wrap(err, "open key log")
	}

	s := &Store{
		cfg:     cfg.Index,
		mem:     memory.NewMemTable(32),
		wal:     wal,
		backend: backend,
		stats:   monitor.NewWorkloadStats(),
		log:     logger.For("store"),
	}
	if err := s.open(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) open(ctx context.Context, cfg *config.Config) error {
	n, err := s.backend.Count()
	if err != nil {
		return errors.Wrap(err, "count snapshot")
	}
	watermark, err := s.backend.Watermark()
	if err != nil {
		return errors.Wrap(err, "read snapshot watermark")
	}

	var keys []common.KeyType
	var params *model.Params
	if n > 0 {
		if keys, err = s.backend.LoadKeys(); err != nil {
			return errors.Wrap(err, "load snapshot")
		}
		s.log.Infof("Loaded %d keys from snapshot %s", len(keys), cfg.SQLitePath())
	} else if cfg.Data.Dataset != "" {
		keys, err = dataset.Load(ctx, cfg.Data.Dataset, cfg.ObjectStore)
		if err != nil {
			return err
		}
		s.log.Infof("Loaded %d keys from %s", len(keys), cfg.Data.Dataset)
		// 训练好的模型只对应原始数据集, 重建后的快照总是重新训练
		if cfg.Data.Model != "" {
			if params, err = modeldesc.Load(ctx, cfg.Data.Model, cfg.ObjectStore); err != nil {
				return err
			}
		}
		if err := s.backend.WriteKeys(keys, watermark); err != nil {
			return errors.Wrap(err, "write snapshot")
		}
	}
	if !dataset.IsSorted(keys) {
		dataset.Sort(keys)
	}

	// 水位之前的记录已在快照里, 即使上次重建后截断失败也不会重复合并
	s.wal.Advance(watermark)
	staged, err := s.wal.Replay(watermark)
	if err != nil {
		return errors.Wrap(err, "replay key log")
	}
	for _, k := range staged {
		if err := s.mem.Put(k); err != nil {
			return err
		}
	}
	if len(staged) > 0 {
		s.log.Infof("Replayed %d staged keys from key log", len(staged))
	}

	snap, err := s.build(ctx, keys, params)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

func (s *Store) build(ctx context.Context, keys []common.KeyType, params *model.Params) (*snapshot, error) {
	snap := &snapshot{keys: keys, built: time.Now()}
	opts := []model.Option{model.WithLeakySlope(s.cfg.LeakySlope)}

	switch s.cfg.Kind {
	case core.KindBTree:
		snap.index = btree.BuildExact(keys)

	case core.KindLearned:
		lm := model.NewLinearModel()
		lm.Train(keys)
		net, err := model.FromParams(lm.RouterLayers(), opts...)
		if err != nil {
			return nil, err
		}
		snap.learned = learned.Build(keys, net)
		snap.index = snap.learned

	case core.KindForwarding, "":
		if params == nil {
			var err error
			if params, err = model.TrainLinearRouter(keys, s.cfg.BucketCount, opts...); err != nil {
				return nil, err
			}
		} else if params.LeakySlope == nil {
			// 模型文件未指定斜率时使用配置值
			withSlope := *params
			slope := s.cfg.LeakySlope
			withSlope.LeakySlope = &slope
			params = &withSlope
		}
		fm, err := forwarding.Build(ctx, keys, params, forwarding.WithWorkers(s.cfg.Workers))
		if err != nil {
			return nil, err
		}
		snap.params = params
		snap.index = fm

	default:
		return nil, errors.Wrapf(config.ErrUnknownKind, "%q", s.cfg.Kind)
	}

	if s.cfg.Bloom {
		snap.index = core.NewFiltered(snap.index, keys, s.cfg.BloomFalseProb)
	}
	s.log.WithFields(logrus.Fields{
		"type": snap.index.Type(),
		"keys": len(keys),
		"took": time.Since(snap.built).String(),
	}).Info("Index built")
	return snap, nil
}

// Eval looks key up in the current index.
func (s *Store) Eval(key common.KeyType) common.Lookup {
	pos, ok := s.current.Load().index.Eval(key)
	hits := 0
	if ok {
		hits = 1
	}
	s.stats.RecordLookups(1, hits)
	return common.Lookup{Pos: pos, Found: ok}
}

// EvalMany looks up keys in order against one snapshot.
func (s *Store) EvalMany(ctx context.Context, keys []common.KeyType) ([]common.Lookup, error) {
	snap := s.current.Load()
	out := make([]common.Lookup, len(keys))
	if fm, ok := snap.index.(*forwarding.Model); ok && len(keys) >= parallelThreshold {
		if err := fm.EvalParallel(ctx, keys, out, s.cfg.Workers); err != nil {
			return nil, err
		}
	} else {
		core.EvalMany(snap.index, keys, out)
	}

	hits := 0
	for _, l := range out {
		if l.Found {
			hits++
		}
	}
	s.stats.RecordBatch()
	s.stats.RecordLookups(len(keys), hits)
	return out, nil
}

// KeyAt returns the dataset key stored at pos in the current snapshot.
func (s *Store) KeyAt(pos common.Position) (common.KeyType, bool) {
	keys := s.current.Load().keys
	if int(pos) >= len(keys) {
		return 0, false
	}
	return keys[pos], true
}

// Staged reports whether key is waiting for the next Rebuild.
func (s *Store) Staged(key common.KeyType) bool {
	return s.mem.Contains(key)
}

// Ingest logs and stages keys. They become visible after the next Rebuild.
func (s *Store) Ingest(keys []common.KeyType) error {
	for i, k := range keys {
		if math.IsNaN(float64(k)) {
			return errors.Wrapf(ErrInvalidKey, "key %d", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wal != nil {
		if err := s.wal.Append(keys...); err != nil {
			return errors.Wrap(err, "append key log")
		}
		if err := s.wal.Sync(); err != nil {
			return errors.Wrap(err, "sync key log")
		}
	}
	for _, k := range keys {
		if err := s.mem.Put(k); err != nil {
			return err
		}
	}
	s.stats.RecordIngest(len(keys))
	return nil
}

type RebuildResult struct {
	Merged int           `json:"merged"`
	Keys   int           `json:"keys"`
	Type   string        `json:"type"`
	Took   time.Duration `json:"took_ns"`
}

// Rebuild merges staged keys into the dataset, retrains and builds a new index
// and swaps it in. Lookups keep using the old index until the swap. Ingest
// blocks while a rebuild runs.
//
// The snapshot is written together with the highest key log sequence it
// contains, so a crash before the log is truncated never merges a key twice.
// A failed truncate is returned as an error; the new index is live by then.
func (s *Store) Rebuild(ctx context.Context) (RebuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	var watermark uint64
	if s.wal != nil {
		watermark = s.wal.LastSeq()
	}

	cur := s.current.Load()
	merged := s.mem.Merge(cur.keys)
	staged := len(merged) - len(cur.keys)

	snap, err := s.build(ctx, merged, nil)
	if err != nil {
		return RebuildResult{}, errors.Wrap(err, "rebuild")
	}
	if s.backend != nil {
		if err := s.backend.WriteKeys(merged, watermark); err != nil {
			return RebuildResult{}, errors.Wrap(err, "write snapshot")
		}
	}
	s.current.Store(snap)

	s.mem.Reset()

	took := time.Since(start)
	s.stats.RecordRebuild(took)
	res := RebuildResult{Merged: staged, Keys: len(merged), Type: snap.index.Type(), Took: took}
	if s.wal != nil {
		if err := s.wal.Truncate(); err != nil {
			return res, errors.Wrap(err, "truncate key log")
		}
	}
	s.log.Infof("Rebuilt index with %d staged keys (%d total) in %v", staged, len(merged), took)
	return res, nil
}

type BenchResult struct {
	Iterations int     `json:"iterations"`
	IndexType  string  `json:"index_type"`
	IndexNs    float64 `json:"index_avg_ns"`
	BTreeNs    float64 `json:"btree_avg_ns"`
	Speedup    float64 `json:"speedup"`

	// Learned kind only: full binary search vs model-bounded search over the
	// sorted keys.
	BinarySearchNs  float64 `json:"binary_search_avg_ns,omitempty"`
	BoundedSearchNs float64 `json:"bounded_search_avg_ns,omitempty"`
}

// Benchmark times count random dataset lookups against the current index and
// against a plain B-tree over the same keys.
func (s *Store) Benchmark(count int, rng *rand.Rand) (BenchResult, error) {
	snap := s.current.Load()
	if len(snap.keys) == 0 {
		return BenchResult{}, errors.New("store: no data")
	}
	if count <= 0 {
		return BenchResult{}, errors.Errorf("store: iterations must be positive, got %d", count)
	}
	seed := rng.Int63()

	idxTime, _ := core.Bench(snap.index, snap.keys, count, rand.New(rand.NewSource(seed)))
	baseline := btree.BuildExact(snap.keys)
	treeTime, _ := core.Bench(baseline, snap.keys, count, rand.New(rand.NewSource(seed)))

	res := BenchResult{
		Iterations: count,
		IndexType:  snap.index.Type(),
		IndexNs:    float64(idxTime.Nanoseconds()) / float64(count),
		BTreeNs:    float64(treeTime.Nanoseconds()) / float64(count),
	}
	if res.IndexNs > 0 {
		res.Speedup = res.BTreeNs / res.IndexNs
	}
	if snap.learned != nil {
		res.BinarySearchNs, res.BoundedSearchNs = snap.learned.BenchmarkInternal(count, rand.New(rand.NewSource(seed)))
	}
	return res, nil
}

// Export samples (key, real position, predicted position) points from the
// current model. A plain B-tree has no model and exports nothing.
func (s *Store) Export() []learned.DiagnosticPoint {
	snap := s.current.Load()
	if snap.learned != nil {
		return snap.learned.ExportDiagnostics()
	}
	fm, ok := unwrap(snap.index).(*forwarding.Model)
	if !ok || len(snap.keys) == 0 {
		return nil
	}

	step := max(1, len(snap.keys)/5000)
	router := fm.Router()
	sc := router.Scratch().Acquire()
	defer router.Scratch().Release(sc)

	points := make([]learned.DiagnosticPoint, 0, len(snap.keys)/step+1)
	for i := 0; i < len(snap.keys); i += step {
		k := snap.keys[i]
		pred := router.ApplyBuffer(k, sc.A, sc.B)
		p := 0
		if pred > 0 {
			p = int(min(float64(pred), float64(math.MaxInt32)))
		}
		points = append(points, learned.DiagnosticPoint{
			Key:          float32(k),
			RealPos:      i,
			PredictedPos: p,
			Error:        i - p,
		})
	}
	return points
}

// ModelParams returns the router parameters of a forwarding index.
func (s *Store) ModelParams() (*model.Params, error) {
	snap := s.current.Load()
	if snap.params == nil {
		return nil, ErrNoModel
	}
	return snap.params, nil
}

func (s *Store) Stats() map[string]interface{} {
	snap := s.current.Load()
	stats := s.stats.Snapshot()
	stats["index_type"] = snap.index.Type()
	stats["dataset_keys"] = len(snap.keys)
	stats["staged_keys"] = s.mem.Count()
	stats["built_at"] = snap.built.Format(time.RFC3339)

	switch idx := unwrap(snap.index).(type) {
	case *forwarding.Model:
		stats["buckets"] = len(idx.Buckets())
		stats["bucket_sizes"] = idx.BucketSizes()
		stats["max_prediction"] = idx.MaxPrediction()
		stats["router_bytes"] = idx.Router().SizeInBytes()
	case *learned.Index:
		stats["min_err"] = idx.MinErr
		stats["max_err"] = idx.MaxErr
		stats["max_error_span"] = idx.MaxErrorSpan()
		stats["model_bytes"] = idx.SizeInBytes()
	case *btree.Exact:
		stats["btree_height"] = idx.Height()
		stats["btree_nodes"] = idx.NodeCount()
	}
	if f, ok := snap.index.(*core.Filtered); ok {
		for k, v := range f.FilterStats() {
			stats[k] = v
		}
	}
	if s.wal != nil {
		if size, err := s.wal.Size(); err == nil {
			stats["keylog_bytes"] = size
		}
	}
	return stats
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			first = err
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func unwrap(idx core.Index) core.Index {
	if f, ok := idx.(*core.Filtered); ok {
		return f.Unwrap()
	}
	return idx
}
