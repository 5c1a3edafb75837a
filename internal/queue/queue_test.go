package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EmptyBehaviour(t *testing.T) {
	q := NewQueue[int]()

	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Size())

	_, ok := q.Dequeue()
	assert.False(t, ok)

	_, ok = q.Peek()
	assert.False(t, ok)

	assert.Empty(t, q.Items())
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := NewQueue[string]()
	joins := []string{"a", "b", "c", "d"}
	for _, v := range joins {
		q.Enqueue(v)
	}

	var got []string
	for !q.IsEmpty() {
		v, ok := q.Dequeue()
		require.True(t, ok)
		got = append(got, v)
	}

	assert.Equal(t, joins, got)
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewQueue(1, 2)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, head)
	assert.Equal(t, 2, q.Size())

	head, _ = q.Dequeue()
	assert.Equal(t, 1, head)
	next, _ := q.Peek()
	assert.Equal(t, 2, next)
}

func TestQueue_ItemsIsSnapshot(t *testing.T) {
	q := NewQueue(1, 2, 3)

	snapshot := q.Items()
	snapshot[0] = 99

	head, _ := q.Peek()
	assert.Equal(t, 1, head, "mutating a snapshot must not affect the queue")

	q.Enqueue(4)
	assert.Len(t, snapshot, 3)
}

func TestQueue_NewQueueCopiesInput(t *testing.T) {
	input := []int{1, 2}
	q := NewQueue(input...)
	input[0] = 7

	head, _ := q.Peek()
	assert.Equal(t, 1, head)
}

func TestQueue_FilterPreservesOrder(t *testing.T) {
	q := NewQueue("a", "b", "a", "c")

	removed := q.Filter(func(s string) bool { return s != "a" })

	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"b", "c"}, q.Items())
}

func TestQueue_FilterNoMatchIsNoop(t *testing.T) {
	q := NewQueue("a", "b")

	removed := q.Filter(func(string) bool { return true })

	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, q.Size())
}
