// Package dataset reads and writes key datasets as newline-separated decimal
// floats and generates synthetic ones.
package dataset

import (
	"bufio"
	"context"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/storage"
)

var ErrInvalidKey = errors.New("dataset: key is NaN")

// ReadText parses one key per line. Blank lines are skipped.
func ReadText(r io.Reader) ([]common.KeyType, error) {
	var keys []common.KeyType
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if math.IsNaN(v) {
			return nil, errors.Wrapf(ErrInvalidKey, "line %d", line)
		}
		keys = append(keys, common.KeyType(v))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read dataset")
	}
	return keys, nil
}

// WriteText writes one key per line using the shortest representation that
// parses back to the same float32.
func WriteText(w io.Writer, keys []common.KeyType) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for _, k := range keys {
		buf = strconv.AppendFloat(buf[:0], float64(k), 'g', -1, 32)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads a dataset from a local path or s3:// object and sorts it.
func Load(ctx context.Context, uri string, cfg config.ObjectStoreConfig) ([]common.KeyType, error) {
	r, err := storage.Open(ctx, uri, cfg)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	keys, err := ReadText(r)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", uri)
	}
	Sort(keys)
	return keys, nil
}

// Save writes keys to a local path or s3:// object.
func Save(ctx context.Context, uri string, cfg config.ObjectStoreConfig, keys []common.KeyType) error {
	w, err := storage.Create(ctx, uri, cfg)
	if err != nil {
		return err
	}
	if err := WriteText(w, keys); err != nil {
		w.Close()
		return errors.Wrapf(err, "save %s", uri)
	}
	return w.Close()
}

func Sort(keys []common.KeyType) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

func IsSorted(keys []common.KeyType) bool {
	return sort.SliceIsSorted(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
