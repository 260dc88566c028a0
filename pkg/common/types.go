package common

import "fmt"

// KeyType 定义主键类型，学习型索引使用 32 位浮点
type KeyType float32

// Position 是 key 在原始有序数据集中的下标
type Position uint32

// Lookup 是一次点查的结果 (可选的 Position)
type Lookup struct {
	Pos   Position
	Found bool
}

func (l Lookup) String() string {
	if !l.Found {
		return "<absent>"
	}
	return fmt.Sprintf("%d", l.Pos)
}
