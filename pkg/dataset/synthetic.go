package dataset

import (
	"math"
	"math/rand"

	"learnedindex/pkg/common"
)

// GenLogNormal draws count keys from LogNormal(0, sigma) and returns them sorted.
func GenLogNormal(rng *rand.Rand, count int, sigma float64) []common.KeyType {
	keys := make([]common.KeyType, count)
	for i := range keys {
		keys[i] = common.KeyType(math.Exp(rng.NormFloat64() * sigma))
	}
	Sort(keys)
	return keys
}

// DefaultSigma is the skew used by the bundled data generator.
const DefaultSigma = 0.25
