package model

import (
	"github.com/pkg/errors"

	"learnedindex/pkg/core/structure"
)

// LayerParams is the decoded form of one trained layer. Weights are row-major,
// Outputs rows of Inputs columns.
type LayerParams struct {
	Inputs  int       `yaml:"inputs"`
	Outputs int       `yaml:"outputs"`
	Weights []float32 `yaml:"weights,flow"`
	Bias    []float32 `yaml:"bias,flow"`
}

// Layer is an immutable dense layer. Weight and bias storage start on a
// structure.Alignment boundary.
type Layer struct {
	inputs  int
	outputs int
	weights []float32
	bias    []float32
}

// NewLayer copies weights and bias into aligned storage. A nil bias is treated as zeros.
func NewLayer(inputs, outputs int, weights, bias []float32) (*Layer, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, errors.Wrapf(ErrLayerShape, "dimensions %dx%d", outputs, inputs)
	}
	if len(weights) != inputs*outputs {
		return nil, errors.Wrapf(ErrLayerShape, "%d weights for a %dx%d matrix", len(weights), outputs, inputs)
	}
	if bias != nil && len(bias) != outputs {
		return nil, errors.Wrapf(ErrLayerShape, "%d biases for %d outputs", len(bias), outputs)
	}

	l := &Layer{
		inputs:  inputs,
		outputs: outputs,
		weights: structure.AlignedCopy(weights),
		bias:    structure.AlignedFloat32(outputs),
	}
	copy(l.bias, bias)
	return l, nil
}

// NewLayerFromParams builds a layer from its decoded form.
func NewLayerFromParams(p LayerParams) (*Layer, error) {
	return NewLayer(p.Inputs, p.Outputs, p.Weights, p.Bias)
}

func (l *Layer) Inputs() int  { return l.inputs }
func (l *Layer) Outputs() int { return l.outputs }

// Params returns a copy of the layer in decoded form.
func (l *Layer) Params() LayerParams {
	return LayerParams{
		Inputs:  l.inputs,
		Outputs: l.outputs,
		Weights: append([]float32(nil), l.weights...),
		Bias:    append([]float32(nil), l.bias...),
	}
}

// forward computes out = leaky(W·in + b). out must not alias in.
func (l *Layer) forward(in, out []float32, slope float32) {
	for r := 0; r < l.outputs; r++ {
		row := l.weights[r*l.inputs : (r+1)*l.inputs]
		var sum float32
		for c, w := range row {
			sum += w * in[c]
		}
		out[r] = leaky(sum+l.bias[r], slope)
	}
}

// forwardScalar is forward for a one-input layer fed directly from the key.
func (l *Layer) forwardScalar(x float32, out []float32, slope float32) {
	for r := 0; r < l.outputs; r++ {
		out[r] = leaky(l.weights[r]*x+l.bias[r], slope)
	}
}

func leaky(v, slope float32) float32 {
	if v >= 0 {
		return v
	}
	return v * slope
}
