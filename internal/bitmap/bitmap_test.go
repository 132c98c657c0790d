package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_SetTestCount(t *testing.T) {
	b := New(100)
	for _, i := range []int{0, 31, 32, 99} {
		b.Set(i)
	}
	assert.Equal(t, 4, b.Count())
	assert.True(t, b.Test(31))
	assert.True(t, b.Test(32))
	assert.False(t, b.Test(33))
	assert.False(t, b.Test(100))
	assert.False(t, b.Test(-1))

	b.Clear(31)
	assert.False(t, b.Test(31))
	assert.Equal(t, []int{0, 32, 99}, b.Indices())
}

func TestBitmap_FirstLast(t *testing.T) {
	b := New(64)
	assert.Equal(t, -1, b.First())
	assert.Equal(t, -1, b.Last())

	b.Set(5)
	b.Set(40)
	assert.Equal(t, 5, b.First())
	assert.Equal(t, 40, b.Last())
}

func TestBitmap_SetPastCapacityPanics(t *testing.T) {
	b := New(8)
	assert.Panics(t, func() { b.Set(8) })
	assert.Panics(t, func() { b.Set(-1) })
}

func TestBitmap_WordsRoundTrip(t *testing.T) {
	b := New(64)
	b.Set(1)
	b.Set(33)
	words := b.Words()
	require.Len(t, words, 2)
	assert.Equal(t, uint32(1<<1), words[0])
	assert.Equal(t, uint32(1<<1), words[1])

	c := FromWords(words)
	assert.True(t, b.Equal(c))

	// Words returns a copy.
	words[0] = 0
	assert.True(t, b.Test(1))
}

func TestBitmap_EachStopsEarly(t *testing.T) {
	b, err := FromIndices(16, 1, 2, 3)
	require.NoError(t, err)
	var seen []int
	b.Each(func(i int) bool {
		seen = append(seen, i)
		return len(seen) < 2
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestFromIndices_RejectsOutOfRange(t *testing.T) {
	_, err := FromIndices(4, 4)
	assert.Error(t, err)
}

func TestBitmap_String(t *testing.T) {
	b, err := FromIndices(8, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, "00000101", b.String(0))
	assert.Equal(t, "101", b.String(3))
}
