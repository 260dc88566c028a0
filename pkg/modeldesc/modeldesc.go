// Package modeldesc encodes trained forwarding-model parameters as YAML.
//
//	leaky_slope: 0.3
//	layers:
//	  - {inputs: 1, outputs: 1, weights: [0.5], bias: [0]}
//	  - {inputs: 1, outputs: 1, weights: [1], bias: [0]}
//	buckets:
//	  - [0, 1, 2]
//	  - [3, 4]
package modeldesc

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/model"
	"learnedindex/pkg/storage"
)

// Document is the on-disk form of model.Params.
type Document struct {
	LeakySlope *float32            `yaml:"leaky_slope,omitempty"`
	Layers     []model.LayerParams `yaml:"layers"`
	Buckets    [][]uint32          `yaml:"buckets"`
}

func FromParams(p *model.Params) *Document {
	doc := &Document{
		LeakySlope: p.LeakySlope,
		Layers:     p.Layers,
		Buckets:    make([][]uint32, len(p.Buckets)),
	}
	for i, b := range p.Buckets {
		doc.Buckets[i] = make([]uint32, len(b))
		for j, pos := range b {
			doc.Buckets[i][j] = uint32(pos)
		}
	}
	return doc
}

func (d *Document) Params() *model.Params {
	p := &model.Params{
		LeakySlope: d.LeakySlope,
		Layers:     d.Layers,
		Buckets:    make([][]common.Position, len(d.Buckets)),
	}
	for i, b := range d.Buckets {
		if len(b) == 0 {
			continue
		}
		p.Buckets[i] = make([]common.Position, len(b))
		for j, pos := range b {
			p.Buckets[i][j] = common.Position(pos)
		}
	}
	return p
}

// Decode parses a document. Shapes are checked later, when the network is built.
func Decode(r io.Reader) (*model.Params, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "modeldesc: decode")
	}
	return doc.Params(), nil
}

func Encode(w io.Writer, p *model.Params) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromParams(p)); err != nil {
		return errors.Wrap(err, "modeldesc: encode")
	}
	return enc.Close()
}

// Load decodes a document from a local path or s3:// object.
func Load(ctx context.Context, uri string, cfg config.ObjectStoreConfig) (*model.Params, error) {
	r, err := storage.Open(ctx, uri, cfg)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	p, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", uri)
	}
	return p, nil
}

// Save encodes p to a local path or s3:// object.
func Save(ctx context.Context, uri string, cfg config.ObjectStoreConfig, p *model.Params) error {
	w, err := storage.Create(ctx, uri, cfg)
	if err != nil {
		return err
	}
	if err := Encode(w, p); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
