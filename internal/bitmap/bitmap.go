// Package bitmap provides a fixed-capacity bit array stored as 32-bit words.
// Word width matches the capability wire format, so Words() can be packed as-is.
package bitmap

import (
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
)

const wordBits = 32

type Bitmap struct {
	words []uint32
	size  int
}

// New returns an empty bitmap able to hold size bits.
func New(size int) *Bitmap {
	if size < 0 {
		size = 0
	}
	return &Bitmap{
		words: make([]uint32, (size+wordBits-1)/wordBits),
		size:  size,
	}
}

// FromWords builds a bitmap over a copy of words; capacity is len(words)*32.
func FromWords(words []uint32) *Bitmap {
	return &Bitmap{
		words: append([]uint32(nil), words...),
		size:  len(words) * wordBits,
	}
}

// FromIndices returns a bitmap of the given capacity with every index set.
func FromIndices(size int, indices ...int) (*Bitmap, error) {
	b := New(size)
	for _, i := range indices {
		if i < 0 || i >= size {
			return nil, errors.Newf("bit %d outside capacity %d", i, size)
		}
		b.Set(i)
	}
	return b, nil
}

// Len returns the capacity in bits.
func (b *Bitmap) Len() int {
	return b.size
}

// Set turns bit i on. Indexing past capacity is an invariant break and panics.
func (b *Bitmap) Set(i int) {
	b.check(i)
	b.words[i/wordBits] |= 1 << uint(i%wordBits)
}

func (b *Bitmap) Clear(i int) {
	b.check(i)
	b.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Test reports whether bit i is set. Out of range indices are never set.
func (b *Bitmap) Test(i int) bool {
	if i < 0 || i >= b.size {
		return false
	}
	return b.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// First returns the lowest set bit or -1.
func (b *Bitmap) First() int {
	for wi, w := range b.words {
		if w != 0 {
			return wi*wordBits + bits.TrailingZeros32(w)
		}
	}
	return -1
}

// Last returns the highest set bit or -1.
func (b *Bitmap) Last() int {
	for wi := len(b.words) - 1; wi >= 0; wi-- {
		if w := b.words[wi]; w != 0 {
			return wi*wordBits + wordBits - 1 - bits.LeadingZeros32(w)
		}
	}
	return -1
}

// Each calls fn for every set bit in ascending order until fn returns false.
func (b *Bitmap) Each(fn func(i int) bool) {
	for wi, w := range b.words {
		for w != 0 {
			tz := bits.TrailingZeros32(w)
			if !fn(wi*wordBits + tz) {
				return
			}
			w &^= 1 << uint(tz)
		}
	}
}

// Indices returns all set bits in ascending order.
func (b *Bitmap) Indices() []int {
	out := make([]int, 0, b.Count())
	b.Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

// Words returns a copy of the backing words, lowest bits first.
func (b *Bitmap) Words() []uint32 {
	return append([]uint32(nil), b.words...)
}

func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{words: append([]uint32(nil), b.words...), size: b.size}
}

func (b *Bitmap) Equal(o *Bitmap) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.size != o.size {
		return false
	}
	for i := range b.words {
		if b.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// String renders the low max bits, most significant first. max <= 0 renders everything.
func (b *Bitmap) String(max int) string {
	top := b.size
	if max > 0 && max < top {
		top = max
	}
	var sb strings.Builder
	sb.Grow(top)
	for i := top - 1; i >= 0; i-- {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (b *Bitmap) check(i int) {
	if i < 0 || i >= b.size {
		panic(errors.AssertionFailedf("bit index %d outside bitmap capacity %d", i, b.size))
	}
}
