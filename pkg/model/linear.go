package model

import (
	"learnedindex/pkg/common"
)

// LinearModel 最小二乘拟合 key -> position
type LinearModel struct {
	Slope     float64
	Intercept float64
	n         float64
	sumX      float64
	sumY      float64
	sumXY     float64
	sumXX     float64
}

func NewLinearModel() *LinearModel {
	return &LinearModel{}
}

// Train 以下标作为目标位置
func (lm *LinearModel) Train(keys []common.KeyType) {
	lm.reset()
	for i, key := range keys {
		lm.add(float64(key), float64(i))
	}
	lm.solve()
}

// TrainWithPos 使用显式位置 (采样训练时使用)
func (lm *LinearModel) TrainWithPos(keys []common.KeyType, positions []common.Position) {
	lm.reset()
	for i, key := range keys {
		lm.add(float64(key), float64(positions[i]))
	}
	lm.solve()
}

func (lm *LinearModel) reset() {
	lm.n, lm.sumX, lm.sumY, lm.sumXY, lm.sumXX = 0, 0, 0, 0, 0
}

func (lm *LinearModel) add(x, y float64) {
	lm.n += 1
	lm.sumX += x
	lm.sumY += y
	lm.sumXY += x * y
	lm.sumXX += x * x
}

func (lm *LinearModel) solve() {
	denominator := lm.n*lm.sumXX - lm.sumX*lm.sumX
	switch {
	case lm.n == 0:
		lm.Slope, lm.Intercept = 0, 0
	case denominator == 0:
		// 所有 key 相同: 预测平均位置
		lm.Slope = 0
		lm.Intercept = lm.sumY / lm.n
	default:
		lm.Slope = (lm.n*lm.sumXY - lm.sumX*lm.sumY) / denominator
		lm.Intercept = (lm.sumY - lm.Slope*lm.sumX) / lm.n
	}
}

func (lm *LinearModel) Predict(key common.KeyType) float32 {
	return float32(lm.Slope*float64(key) + lm.Intercept)
}

func (lm *LinearModel) SizeInBytes() int {
	return 16
}

// RouterLayers 把线性模型编码成 1->1->1 网络
// 第二层是恒等映射, 非负预测经过两次 Leaky-ReLU 后保持不变
func (lm *LinearModel) RouterLayers() []LayerParams {
	return []LayerParams{
		{Inputs: 1, Outputs: 1, Weights: []float32{float32(lm.Slope)}, Bias: []float32{float32(lm.Intercept)}},
		{Inputs: 1, Outputs: 1, Weights: []float32{1}, Bias: []float32{0}},
	}
}
