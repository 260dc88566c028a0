package model

import "learnedindex/pkg/common"

// Predictor maps a key to an approximate position.
type Predictor interface {
	Predict(key common.KeyType) float32
	SizeInBytes() int
}

var (
	_ Predictor = (*Network)(nil)
	_ Predictor = (*LinearModel)(nil)
)
