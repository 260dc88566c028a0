package protocol

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"learnedindex/pkg/common"
)

var ErrMalformed = errors.New("malformed payload")

// Key: float32 bits, 4B
func EncodeKey(k common.KeyType) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(float32(k)))
	return b
}

func DecodeKey(b []byte) (common.KeyType, error) {
	if len(b) != 4 {
		return 0, errors.Wrapf(ErrMalformed, "key of %d bytes", len(b))
	}
	return common.KeyType(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
}

func EncodePosition(p common.Position) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(p))
	return b
}

func DecodePosition(b []byte) (common.Position, error) {
	if len(b) != 4 {
		return 0, errors.Wrapf(ErrMalformed, "position of %d bytes", len(b))
	}
	return common.Position(binary.BigEndian.Uint32(b)), nil
}

// [Count 4B] + [Key 4B] * Count
func EncodeKeys(keys []common.KeyType) []byte {
	b := make([]byte, 4+4*len(keys))
	binary.BigEndian.PutUint32(b, uint32(len(keys)))
	for i, k := range keys {
		binary.BigEndian.PutUint32(b[4+4*i:], math.Float32bits(float32(k)))
	}
	return b
}

func DecodeKeys(b []byte) ([]common.KeyType, error) {
	if len(b) < 4 {
		return nil, errors.Wrap(ErrMalformed, "missing key count")
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+4*n {
		return nil, errors.Wrapf(ErrMalformed, "%d keys in %d bytes", n, len(b))
	}
	keys := make([]common.KeyType, n)
	for i := range keys {
		keys[i] = common.KeyType(math.Float32frombits(binary.BigEndian.Uint32(b[4+4*i:])))
	}
	return keys, nil
}

// [Count 4B] + ([Found 1B] [Pos 4B]) * Count
func EncodeLookups(out []common.Lookup) []byte {
	b := make([]byte, 4+5*len(out))
	binary.BigEndian.PutUint32(b, uint32(len(out)))
	for i, l := range out {
		off := 4 + 5*i
		if l.Found {
			b[off] = 1
			binary.BigEndian.PutUint32(b[off+1:], uint32(l.Pos))
		}
	}
	return b
}

func DecodeLookups(b []byte) ([]common.Lookup, error) {
	if len(b) < 4 {
		return nil, errors.Wrap(ErrMalformed, "missing lookup count")
	}
	n := int(binary.BigEndian.Uint32(b))
	if len(b) != 4+5*n {
		return nil, errors.Wrapf(ErrMalformed, "%d lookups in %d bytes", n, len(b))
	}
	out := make([]common.Lookup, n)
	for i := range out {
		off := 4 + 5*i
		if b[off] == 1 {
			out[i] = common.Lookup{Pos: common.Position(binary.BigEndian.Uint32(b[off+1:])), Found: true}
		}
	}
	return out, nil
}
