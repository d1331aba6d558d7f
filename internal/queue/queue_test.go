package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdered_PushKeepsFirst(t *testing.T) {
	q := New[string]()
	assert.True(t, q.Push("a", "first"))
	assert.False(t, q.Push("a", "second"))
	v, ok := q.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", v)
	assert.Equal(t, 1, q.Len())
}

func TestOrdered_InsertionOrder(t *testing.T) {
	q := New[int]()
	for i, k := range []string{"c", "a", "b"} {
		q.Push(k, i)
	}
	assert.Equal(t, []int{0, 1, 2}, q.Values())

	v, ok := q.Remove("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{0, 2}, q.Values())

	q.Put("c", 9)
	q.Put("d", 3)
	assert.Equal(t, []int{9, 2, 3}, q.Values())
}

func TestOrdered_Take(t *testing.T) {
	q := New[int]()
	for i := 1; i <= 6; i++ {
		q.Push(fmt.Sprint(i), i)
	}
	sum := 0
	got := q.Take(func(_ string, v int) (bool, bool) {
		if v%2 == 0 {
			sum += v
			return true, sum >= 6
		}
		return false, false
	})
	assert.Equal(t, []int{2, 4}, got)
	assert.Equal(t, []int{1, 3, 5, 6}, q.Values())

	removed := q.RemoveIf(func(_ string, v int) bool { return v > 4 })
	assert.Equal(t, []int{5, 6}, removed)
	assert.False(t, q.Contains("5"))
}

func TestOrdered_ConcurrentTakeNeverDuplicates(t *testing.T) {
	q := New[int]()
	const n = 1000
	for i := 0; i < n; i++ {
		q.Push(fmt.Sprint(i), i)
	}

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got := q.Take(func(string, int) (bool, bool) { return true, true })
				if len(got) == 0 {
					return
				}
				mu.Lock()
				seen[got[0]]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for v, c := range seen {
		assert.Equal(t, 1, c, "value %d taken %d times", v, c)
	}
	assert.Equal(t, 0, q.Len())
}
