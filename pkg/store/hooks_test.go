package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHooksAddRemove(t *testing.T) {
	var h Hooks[func()]

	a := h.Add(func() {})
	b := h.Add(func() {})
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, h.Len())

	assert.True(t, h.Remove(a))
	assert.False(t, h.Remove(a))
	assert.Equal(t, 1, h.Len())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Remove(b))
}

func TestHandlesAreUniqueAcrossLists(t *testing.T) {
	var first, second Hooks[func()]
	h := first.Add(func() {})
	second.Add(func() {})

	assert.False(t, second.Remove(h), "a handle only removes from the list that issued it")
	assert.Equal(t, 1, first.Len())
}

func TestHooksDispatch(t *testing.T) {
	t.Run("runs in registration order", func(t *testing.T) {
		var h Hooks[func(*[]int)]
		for i := 0; i < 3; i++ {
			i := i
			h.Add(func(out *[]int) { *out = append(*out, i) })
		}

		var got []int
		failed := h.Dispatch(func(fn func(*[]int)) { fn(&got) }, nil)
		assert.Equal(t, 0, failed)
		assert.Equal(t, []int{0, 1, 2}, got)
	})

	t.Run("isolates panics", func(t *testing.T) {
		var h Hooks[func()]
		ran := 0
		h.Add(func() { ran++ })
		h.Add(func() { panic("boom") })
		h.Add(func() { ran++ })

		var panicked []int
		failed := h.Dispatch(func(fn func()) { fn() }, func(i int, r any) {
			panicked = append(panicked, i)
			assert.Equal(t, "boom", r)
		})
		assert.Equal(t, 1, failed)
		assert.Equal(t, 2, ran)
		assert.Equal(t, []int{1}, panicked)
	})

	t.Run("uses registrations present at call time", func(t *testing.T) {
		var h Hooks[func()]
		calls := 0
		var late Handle
		h.Add(func() {
			calls++
			late = h.Add(func() { calls++ })
		})

		h.Dispatch(func(fn func()) { fn() }, nil)
		assert.Equal(t, 1, calls)
		assert.True(t, h.Remove(late))
	})
}

func TestNotifyQueueDefersNestedNotifications(t *testing.T) {
	var q notifyQueue
	var order []string

	q.enqueue(func() {
		order = append(order, "outer start")
		q.enqueue(func() { order = append(order, "nested") })
		q.drain()
		order = append(order, "outer end")
	})
	q.enqueue(func() { order = append(order, "second") })
	q.drain()

	assert.Equal(t, []string{"outer start", "outer end", "second", "nested"}, order)

	// The queue is reusable once drained
	q.enqueue(func() { order = append(order, "later") })
	q.drain()
	assert.Equal(t, "later", order[len(order)-1])
}
