package model

import (
	"github.com/pkg/errors"

	"learnedindex/pkg/common"
)

var ErrNoBuckets = errors.New("model: bucket count must be positive")

// maxTrainSamples caps the points fed to the least-squares fit.
const maxTrainSamples = 10000

// TrainLinearRouter fits a linear key→position model over sorted keys, encodes it
// as a router network and partitions the positions by the router's own bucket
// choice, so every key lands in the bucket the router sends it to.
func TrainLinearRouter(keys []common.KeyType, bucketCount int, opts ...Option) (*Params, error) {
	if bucketCount <= 0 {
		return nil, errors.Wrapf(ErrNoBuckets, "got %d", bucketCount)
	}

	lm := NewLinearModel()
	if len(keys) <= maxTrainSamples {
		lm.Train(keys)
	} else {
		step := len(keys) / maxTrainSamples
		sk := make([]common.KeyType, 0, maxTrainSamples+1)
		sp := make([]common.Position, 0, maxTrainSamples+1)
		for i := 0; i < len(keys); i += step {
			sk = append(sk, keys[i])
			sp = append(sp, common.Position(i))
		}
		lm.TrainWithPos(sk, sp)
	}

	layers := lm.RouterLayers()
	net, err := FromParams(layers, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "encode router")
	}

	var maxPrediction common.Position
	if len(keys) > 0 {
		maxPrediction = common.Position(len(keys) - 1)
	}
	buckets := make([][]common.Position, bucketCount)
	s := net.Scratch().Acquire()
	defer net.Scratch().Release(s)
	for i, k := range keys {
		b := BucketIndex(net.ApplyBuffer(k, s.A, s.B), maxPrediction, bucketCount)
		buckets[b] = append(buckets[b], common.Position(i))
	}

	slope := net.Slope()
	return &Params{
		Layers:     layers,
		Buckets:    buckets,
		LeakySlope: &slope,
	}, nil
}
