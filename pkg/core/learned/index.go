// Package learned implements the predictor-only index: a model predicts a key's
// position directly and a bounded search around the prediction resolves it.
package learned

import (
	"math/rand"
	"sort"
	"time"

	"learnedindex/pkg/common"
	"learnedindex/pkg/model"
)

type DiagnosticPoint struct {
	Key          float32 `json:"key"`
	RealPos      int     `json:"real_pos"`
	PredictedPos int     `json:"predicted_pos"`
	Error        int     `json:"error"`
}

// Index 有序 key + 预测模型 + 误差边界
type Index struct {
	keys      []common.KeyType
	predictor model.Predictor
	MinErr    int
	MaxErr    int
}

// Build 记录预测在整个有序数据集上的最小/最大误差; keys 必须有序
func Build(keys []common.KeyType, p model.Predictor) *Index {
	li := &Index{keys: keys, predictor: p}
	for i, key := range keys {
		err := i - li.predict(key)
		if err < li.MinErr {
			li.MinErr = err
		}
		if err > li.MaxErr {
			li.MaxErr = err
		}
	}
	return li
}

// predict 把模型输出截断到 [0, n-1]
func (li *Index) predict(key common.KeyType) int {
	return li.clamp(li.predictor.Predict(key))
}

func (li *Index) clamp(pred float32) int {
	if !(pred > 0) {
		return 0
	}
	if last := len(li.keys) - 1; float64(pred) >= float64(last) {
		return max(last, 0)
	}
	return int(pred)
}

func (li *Index) Eval(key common.KeyType) (common.Position, bool) {
	if len(li.keys) == 0 {
		return 0, false
	}
	return li.search(key, li.predict(key))
}

// EvalMany 对网络预测器复用同一对 scratch 缓冲区
func (li *Index) EvalMany(keys []common.KeyType, out []common.Lookup) {
	_ = out[:len(keys)]
	if len(li.keys) == 0 {
		for i := range keys {
			out[i] = common.Lookup{}
		}
		return
	}
	net, ok := li.predictor.(*model.Network)
	if !ok {
		for i, k := range keys {
			pos, found := li.search(k, li.predict(k))
			out[i] = common.Lookup{Pos: pos, Found: found}
		}
		return
	}
	s := net.Scratch().Acquire()
	for i, k := range keys {
		pos, found := li.search(k, li.clamp(net.ApplyBuffer(k, s.A, s.B)))
		out[i] = common.Lookup{Pos: pos, Found: found}
	}
	net.Scratch().Release(s)
}

func (li *Index) search(key common.KeyType, pred int) (common.Position, bool) {
	low := pred + li.MinErr
	high := pred + li.MaxErr
	if low < 0 {
		low = 0
	}
	if high >= len(li.keys) {
		high = len(li.keys) - 1
	}
	if low > high {
		return 0, false
	}

	if high-low < 16 {
		for i := low; i <= high; i++ {
			if li.keys[i] == key {
				return common.Position(i), true
			}
			if li.keys[i] > key {
				return 0, false
			}
		}
		return 0, false
	}

	window := li.keys[low : high+1]
	idx := sort.Search(len(window), func(i int) bool {
		return window[i] >= key
	})
	if idx < len(window) && window[idx] == key {
		return common.Position(low + idx), true
	}
	return 0, false
}

func (li *Index) Size() int {
	return len(li.keys)
}

func (li *Index) Type() string {
	if _, ok := li.predictor.(*model.LinearModel); ok {
		return "Learned-Linear"
	}
	return "Learned-NN"
}

func (li *Index) SizeInBytes() int {
	return li.predictor.SizeInBytes()
}

func (li *Index) ExportDiagnostics() []DiagnosticPoint {
	// 采样导出，避免数据量过大
	step := 1
	if len(li.keys) > 5000 {
		step = len(li.keys) / 5000
	}

	results := make([]DiagnosticPoint, 0, len(li.keys)/step+1)
	for i := 0; i < len(li.keys); i += step {
		key := li.keys[i]
		pred := li.predict(key)
		results = append(results, DiagnosticPoint{
			Key:          float32(key),
			RealPos:      i,
			PredictedPos: pred,
			Error:        i - pred,
		})
	}
	return results
}

// BenchmarkInternal 对比二分查找与模型引导查找的平均耗时 (ns/op)
func (li *Index) BenchmarkInternal(iterations int, rng *rand.Rand) (float64, float64) {
	if len(li.keys) == 0 || iterations <= 0 {
		return 0, 0
	}

	keys := make([]common.KeyType, iterations)
	for i := range keys {
		keys[i] = li.keys[rng.Intn(len(li.keys))]
	}

	startBin := time.Now()
	for _, key := range keys {
		sort.Search(len(li.keys), func(i int) bool {
			return li.keys[i] >= key
		})
	}
	avgBin := float64(time.Since(startBin).Nanoseconds()) / float64(iterations)

	startModel := time.Now()
	for _, key := range keys {
		li.Eval(key)
	}
	avgModel := float64(time.Since(startModel).Nanoseconds()) / float64(iterations)

	return avgBin, avgModel
}

// MaxErrorSpan 是最坏情况下的搜索窗口宽度
func (li *Index) MaxErrorSpan() int {
	return li.MaxErr - li.MinErr + 1
}
