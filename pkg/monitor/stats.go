package monitor

import (
	"sync/atomic"
	"time"
)

// WorkloadStats 服务端计数器, 全部原子更新
type WorkloadStats struct {
	LookupCount  uint64
	HitCount     uint64
	BatchCount   uint64
	IngestCount  uint64
	RebuildCount uint64
	lastRebuild  atomic.Int64 // unix nano
	rebuildNanos atomic.Int64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

// RecordLookups 记录 n 次查找, 其中 hits 次命中
func (ws *WorkloadStats) RecordLookups(n, hits int) {
	atomic.AddUint64(&ws.LookupCount, uint64(n))
	atomic.AddUint64(&ws.HitCount, uint64(hits))
}

func (ws *WorkloadStats) RecordBatch() {
	atomic.AddUint64(&ws.BatchCount, 1)
}

func (ws *WorkloadStats) RecordIngest(n int) {
	atomic.AddUint64(&ws.IngestCount, uint64(n))
}

func (ws *WorkloadStats) RecordRebuild(took time.Duration) {
	atomic.AddUint64(&ws.RebuildCount, 1)
	ws.lastRebuild.Store(time.Now().UnixNano())
	ws.rebuildNanos.Store(int64(took))
}

func (ws *WorkloadStats) GetHitRatio() float64 {
	lookups := atomic.LoadUint64(&ws.LookupCount)
	if lookups == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ws.HitCount)) / float64(lookups)
}

// GetLookupIngestRatio 读写比; 没有写入时返回 100
func (ws *WorkloadStats) GetLookupIngestRatio() float64 {
	lookups := atomic.LoadUint64(&ws.LookupCount)
	ingests := atomic.LoadUint64(&ws.IngestCount)

	if ingests == 0 {
		if lookups > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(lookups) / float64(ingests)
}

func (ws *WorkloadStats) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"lookups":            atomic.LoadUint64(&ws.LookupCount),
		"hits":               atomic.LoadUint64(&ws.HitCount),
		"batches":            atomic.LoadUint64(&ws.BatchCount),
		"ingested":           atomic.LoadUint64(&ws.IngestCount),
		"rebuilds":           atomic.LoadUint64(&ws.RebuildCount),
		"hit_ratio":          ws.GetHitRatio(),
		"lookup_ingest_rate": ws.GetLookupIngestRatio(),
	}
	if ts := ws.lastRebuild.Load(); ts != 0 {
		snap["last_rebuild"] = time.Unix(0, ts).Format(time.RFC3339)
		snap["last_rebuild_ms"] = time.Duration(ws.rebuildNanos.Load()).Milliseconds()
	}
	return snap
}
