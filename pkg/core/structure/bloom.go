package structure

import (
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"

	"learnedindex/pkg/common"
)

// BloomFilter answers "definitely absent" for keys never added. It is filled
// once while an index is built and only read afterwards; Add must not run
// concurrently with Contains.
type BloomFilter struct {
	bits  *bitset.BitSet
	m     uint
	k     uint
	count uint
}

// NewBloomFilter sizes the filter for n keys at false-positive rate p.
func NewBloomFilter(n uint, p float64) *BloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}

	// m = -n ln(p) / ln(2)^2, k = m/n ln(2)
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := uint(math.Round(float64(m) / float64(n) * math.Ln2))
	return &BloomFilter{
		bits: bitset.New(max(m, 1)),
		m:    max(m, 1),
		k:    max(k, 1),
	}
}

func (bf *BloomFilter) Add(key common.KeyType) {
	h1, h2 := hashPair(key)
	for i := uint64(0); i < uint64(bf.k); i++ {
		bf.bits.Set(uint((h1 + i*h2) % uint64(bf.m)))
	}
	bf.count++
}

func (bf *BloomFilter) Contains(key common.KeyType) bool {
	h1, h2 := hashPair(key)
	for i := uint64(0); i < uint64(bf.k); i++ {
		if !bf.bits.Test(uint((h1 + i*h2) % uint64(bf.m))) {
			return false
		}
	}
	return true
}

// hashPair splits one 64-bit hash of the key bits into the two double-hashing
// seeds. -0 and +0 hash alike since they compare equal.
func hashPair(key common.KeyType) (uint64, uint64) {
	var b uint32
	if key != 0 {
		b = math.Float32bits(float32(key))
	}
	h := fnv.New64a()
	h.Write([]byte{byte(b), byte(b >> 8), byte(b >> 16), byte(b >> 24)})
	sum := h.Sum64()
	return sum & 0xffffffff, (sum >> 32) | 1
}

func (bf *BloomFilter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"bloom_bits_size": bf.m,
		"bloom_hashes":    bf.k,
		"bloom_count":     bf.count,
		"bloom_bits_set":  bf.bits.Count(),
	}
}
