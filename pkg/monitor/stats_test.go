package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkloadStats(t *testing.T) {
	ws := NewWorkloadStats()
	assert.Equal(t, 0.0, ws.GetHitRatio())
	assert.Equal(t, 0.0, ws.GetLookupIngestRatio())
	assert.NotContains(t, ws.Snapshot(), "last_rebuild")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws.RecordLookups(10, 5)
			ws.RecordBatch()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0.5, ws.GetHitRatio())
	assert.Equal(t, 100.0, ws.GetLookupIngestRatio())

	ws.RecordIngest(50)
	ws.RecordRebuild(20 * time.Millisecond)
	snap := ws.Snapshot()
	assert.Equal(t, uint64(100), snap["lookups"])
	assert.Equal(t, uint64(10), snap["batches"])
	assert.Equal(t, uint64(1), snap["rebuilds"])
	assert.Equal(t, int64(20), snap["last_rebuild_ms"])
	assert.Equal(t, 2.0, ws.GetLookupIngestRatio())
}
