package model

import (
	"sync"

	"learnedindex/pkg/core/structure"
)

// Scratch is a pair of aligned buffers that evaluation ping-pongs between.
// A Scratch is owned by one evaluation at a time.
type Scratch struct {
	A []float32
	B []float32
}

// NewScratch allocates a pair of aligned buffers of the given length.
func NewScratch(size int) *Scratch {
	return &Scratch{
		A: structure.AlignedFloat32(size),
		B: structure.AlignedFloat32(size),
	}
}

// ScratchPool hands out scratch pairs with exclusive checkout.
type ScratchPool struct {
	size int
	pool sync.Pool
}

func NewScratchPool(size int) *ScratchPool {
	p := &ScratchPool{size: size}
	p.pool.New = func() any {
		return NewScratch(size)
	}
	return p
}

func (p *ScratchPool) Acquire() *Scratch {
	return p.pool.Get().(*Scratch)
}

// Release returns s to the pool. s must not be used afterwards.
func (p *ScratchPool) Release(s *Scratch) {
	if s == nil || len(s.A) < p.size || len(s.B) < p.size {
		return
	}
	p.pool.Put(s)
}
