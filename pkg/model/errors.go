package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTooFewLayers = errors.New("model: a network needs at least two layers")
	ErrLayerShape   = errors.New("model: weight or bias length does not match layer dimensions")
)

// DimensionMismatchError reports two adjacent layers whose dimensions do not chain,
// or an input vector whose width differs from the first layer.
type DimensionMismatchError struct {
	Layer    int
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("model: layer %d expects %d inputs, got %d", e.Layer, e.Expected, e.Actual)
}

// IsDimensionMismatch reports whether the cause of err is a DimensionMismatchError.
func IsDimensionMismatch(err error) bool {
	_, ok := errors.Cause(err).(*DimensionMismatchError)
	return ok
}
