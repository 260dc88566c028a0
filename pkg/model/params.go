package model

import "learnedindex/pkg/common"

// Params are already-decoded trained parameters: router layers in order plus, per
// bucket, the ordered positions that bucket indexes.
type Params struct {
	Layers     []LayerParams
	Buckets    [][]common.Position
	LeakySlope *float32
}

// Network builds the router described by p.
func (p *Params) Network() (*Network, error) {
	var opts []Option
	if p.LeakySlope != nil {
		opts = append(opts, WithLeakySlope(*p.LeakySlope))
	}
	return FromParams(p.Layers, opts...)
}

// MaxPosition returns the largest position listed in any bucket, or 0 if there is none.
func (p *Params) MaxPosition() common.Position {
	var m common.Position
	for _, b := range p.Buckets {
		for _, pos := range b {
			if pos > m {
				m = pos
			}
		}
	}
	return m
}
