package core

import (
	"math/rand"
	"time"

	"learnedindex/pkg/common"
)

// Bench samples count keys from data with rng, evaluates them in one EvalMany call
// and returns the elapsed time. Sampling is not timed. The number of hits is
// returned so the lookups cannot be optimized away.
func Bench(idx Index, data []common.KeyType, count int, rng *rand.Rand) (time.Duration, int) {
	if len(data) == 0 || count <= 0 {
		return 0, 0
	}
	keys := make([]common.KeyType, count)
	for i := range keys {
		keys[i] = data[rng.Intn(len(data))]
	}
	out := make([]common.Lookup, count)

	start := time.Now()
	EvalMany(idx, keys, out)
	elapsed := time.Since(start)

	hits := 0
	for _, l := range out {
		if l.Found {
			hits++
		}
	}
	return elapsed, hits
}

// PerLookup divides a Bench duration by the number of keys.
func PerLookup(d time.Duration, count int) time.Duration {
	if count <= 0 {
		return 0
	}
	return d / time.Duration(count)
}
