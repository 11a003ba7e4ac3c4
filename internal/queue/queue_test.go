package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		v, ok := q.Shift()
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.Shift()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestInterleaved(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")

	v, _ := q.Shift()
	assert.Equal(t, "a", v)

	q.Push("c")
	head, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, "b", head)

	assert.Equal(t, []string{"b", "c"}, q.Clear())
	assert.Equal(t, 0, q.Len())
}

func TestCompactionReleasesTail(t *testing.T) {
	q := New[*int]()
	for i := 0; i < 100; i++ {
		v := i
		q.Push(&v)
	}
	for i := 0; i < 50; i++ {
		v, ok := q.Shift()
		assert.True(t, ok)
		assert.Equal(t, i, *v)
	}
	assert.Equal(t, 0, q.head, "prefix reclaimed")

	backing := q.items[:cap(q.items)]
	for i := len(q.items); i < len(backing); i++ {
		assert.Nil(t, backing[i], "slot %d still referenced", i)
	}

	v, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, 50, *v)
	assert.Equal(t, 50, q.Len())
}
