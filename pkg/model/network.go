package model

import (
	"github.com/pkg/errors"

	"learnedindex/pkg/common"
)

// LeakySlope is the negative-side slope of the activation applied after every layer.
const LeakySlope float32 = 0.3

// Network is an immutable feed-forward predictor. Evaluation is a pure function of
// the weights and the input and is safe for concurrent use as long as every caller
// brings its own scratch buffers.
type Network struct {
	layers  []*Layer
	slope   float32
	bufSize int
	scratch *ScratchPool
}

type Option func(*Network)

// WithLeakySlope overrides LeakySlope. A slope of 0 turns the activation into a plain ReLU.
func WithLeakySlope(s float32) Option {
	return func(n *Network) {
		n.slope = s
	}
}

// NewNetwork chains layers in order. It fails with ErrTooFewLayers for fewer than two
// layers and with a *DimensionMismatchError when an output width does not feed the
// next layer's input width.
func NewNetwork(layers []*Layer, opts ...Option) (*Network, error) {
	if len(layers) < 2 {
		return nil, errors.Wrapf(ErrTooFewLayers, "got %d", len(layers))
	}
	for i := 1; i < len(layers); i++ {
		if layers[i].inputs != layers[i-1].outputs {
			return nil, &DimensionMismatchError{Layer: i, Expected: layers[i].inputs, Actual: layers[i-1].outputs}
		}
	}

	n := &Network{
		layers: append([]*Layer(nil), layers...),
		slope:  LeakySlope,
	}
	for _, opt := range opts {
		opt(n)
	}
	for _, l := range n.layers {
		if l.outputs > n.bufSize {
			n.bufSize = l.outputs
		}
	}
	n.scratch = NewScratchPool(n.bufSize)
	return n, nil
}

// FromParams builds every layer and then the network. Layers built before a failing
// one are dropped with the error.
func FromParams(params []LayerParams, opts ...Option) (*Network, error) {
	layers := make([]*Layer, 0, len(params))
	for i, p := range params {
		l, err := NewLayerFromParams(p)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		layers = append(layers, l)
	}
	return NewNetwork(layers, opts...)
}

func (n *Network) Layers() []*Layer { return n.layers }

// Inputs is the width of the first layer; 1 for a scalar key.
func (n *Network) Inputs() int { return n.layers[0].inputs }

func (n *Network) Outputs() int { return n.layers[len(n.layers)-1].outputs }

func (n *Network) Slope() float32 { return n.slope }

// BufSize is the minimum length of each scratch buffer: the widest layer output.
func (n *Network) BufSize() int { return n.bufSize }

// Params returns the decoded form of every layer.
func (n *Network) Params() []LayerParams {
	out := make([]LayerParams, len(n.layers))
	for i, l := range n.layers {
		out[i] = l.Params()
	}
	return out
}

// Scratch returns the network's buffer pool.
func (n *Network) Scratch() *ScratchPool { return n.scratch }

// Apply evaluates a scalar key using a pooled scratch pair and returns the first output.
func (n *Network) Apply(key common.KeyType) float32 {
	s := n.scratch.Acquire()
	v := n.ApplyBuffer(key, s.A, s.B)
	n.scratch.Release(s)
	return v
}

// Predict satisfies Predictor.
func (n *Network) Predict(key common.KeyType) float32 {
	return n.Apply(key)
}

// ApplyBuffer evaluates a scalar key without allocating. a and b must not alias and
// must each hold at least BufSize values; the network must take one input.
func (n *Network) ApplyBuffer(key common.KeyType, a, b []float32) float32 {
	first := n.layers[0]
	if first.inputs != 1 {
		panic("model: ApplyBuffer on a network with vector input")
	}
	first.forwardScalar(float32(key), a[:first.outputs], n.slope)
	cur, next := a, b
	for _, l := range n.layers[1:] {
		l.forward(cur[:l.inputs], next[:l.outputs], n.slope)
		cur, next = next, cur
	}
	return cur[0]
}

// ApplyVector evaluates a vector input. The result aliases a or b and is only valid
// until the buffers are reused.
func (n *Network) ApplyVector(in, a, b []float32) ([]float32, error) {
	if len(in) != n.Inputs() {
		return nil, &DimensionMismatchError{Layer: 0, Expected: n.Inputs(), Actual: len(in)}
	}
	first := n.layers[0]
	first.forward(in, a[:first.outputs], n.slope)
	cur, next := a, b
	for _, l := range n.layers[1:] {
		l.forward(cur[:l.inputs], next[:l.outputs], n.slope)
		cur, next = next, cur
	}
	return cur[:n.Outputs()], nil
}

// SizeInBytes counts weight and bias storage.
func (n *Network) SizeInBytes() int {
	size := 0
	for _, l := range n.layers {
		size += 4 * (len(l.weights) + len(l.bias))
	}
	return size
}
