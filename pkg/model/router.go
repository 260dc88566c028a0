package model

import "learnedindex/pkg/common"

// BucketIndex maps a router prediction to one of n buckets:
// clamp(floor(pred / maxPrediction × n), 0, n-1), in float32.
// NaN, non-positive predictions and a zero maxPrediction all select bucket 0.
// n must be positive.
func BucketIndex(pred float32, maxPrediction common.Position, n int) int {
	if n <= 1 || maxPrediction == 0 {
		return 0
	}
	v := pred / float32(maxPrediction) * float32(n)
	if !(v > 0) {
		return 0
	}
	if v >= float32(n) {
		return n - 1
	}
	return int(v)
}
