package tidepool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingQueue_TryPushPop(t *testing.T) {
	q := NewBlockingQueue[int](8)

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	assert.Equal(t, 2, q.Size())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, q.Size())
}

func TestBlockingQueue_DiscardCounter(t *testing.T) {
	q := NewBlockingQueue[int](2)

	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	assert.False(t, q.TryPush(3))
	assert.False(t, q.TryPush(4))
	assert.Equal(t, uint64(2), q.DiscardCount())

	q.ResetDiscardCounter()
	assert.Zero(t, q.DiscardCount())
}

func TestBlockingQueue_WaitPushForTimeout(t *testing.T) {
	q := NewBlockingQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	start := time.Now()
	ok := q.WaitPushFor(3, 30*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, uint64(1), q.DiscardCount())
	assert.Equal(t, 2, q.Size())
}

func TestBlockingQueue_WaitPopForTimeout(t *testing.T) {
	q := NewBlockingQueue[int](2)

	start := time.Now()
	_, ok := q.WaitPopFor(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestBlockingQueue_WaitPushUnblocksOnPop(t *testing.T) {
	q := NewBlockingQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	pushed := make(chan bool)
	go func() {
		pushed <- q.WaitPush(3)
	}()

	select {
	case <-pushed:
		t.Fatal("push must block on a full queue")
	case <-time.After(30 * time.Millisecond):
	}

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push did not unblock after a pop freed a slot")
	}
	assert.Equal(t, 2, q.Size())
}

func TestBlockingQueue_WaitPopUnblocksOnPush(t *testing.T) {
	q := NewBlockingQueue[int](4)

	type result struct {
		v  int
		ok bool
	}
	popped := make(chan result)
	go func() {
		v, ok := q.WaitPop()
		popped <- result{v, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.TryPush(9))

	select {
	case r := <-popped:
		require.True(t, r.ok)
		assert.Equal(t, 9, r.v)
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after a push")
	}
}

func TestBlockingQueue_CloseWakesWaiters(t *testing.T) {
	q := NewBlockingQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	var wg sync.WaitGroup
	pushResults := make([]bool, 3)
	for i := range pushResults {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pushResults[i] = q.WaitPush(100 + i)
		}(i)
	}

	popEmpty := make(chan bool, 1)
	empty := NewBlockingQueue[int](2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := empty.WaitPop()
		popEmpty <- ok
	}()

	time.Sleep(30 * time.Millisecond)
	q.Close()
	empty.Close()
	wg.Wait()

	for i, ok := range pushResults {
		assert.False(t, ok, "parked producer %d must fail after close", i)
	}
	assert.False(t, <-popEmpty)

	// Pops keep draining the closed queue, then report closed
	v, ok := q.WaitPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.WaitPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.WaitPop()
	assert.False(t, ok)

	assert.False(t, q.TryPush(5))
}

func TestBlockingQueue_ClearWakesProducers(t *testing.T) {
	q := NewBlockingQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	pushed := make(chan bool)
	go func() {
		pushed <- q.WaitPush(3)
	}()
	time.Sleep(20 * time.Millisecond)

	var seen []int
	n := q.Clear(func(v int) { seen = append(seen, v) })
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{1, 2}, seen)

	select {
	case ok := <-pushed:
		assert.True(t, ok, "producer must observe the cleared space")
	case <-time.After(time.Second):
		t.Fatal("producer still parked after Clear")
	}
	assert.Equal(t, 1, q.Size())
}

func TestBlockingQueue_OverwritePush(t *testing.T) {
	q := NewBlockingQueue[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))

	var dropped []int
	ok := q.OverwritePush(3, func(old int) { dropped = append(dropped, old) })
	require.True(t, ok)
	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, 2, q.Size())

	q.Close()
	assert.False(t, q.OverwritePush(4, nil))
}

func TestBlockingQueue_SizeTracksRing(t *testing.T) {
	q := NewBlockingQueue[int](16)

	for i := 0; i < 10; i++ {
		require.True(t, q.TryPush(i))
		assert.Equal(t, i+1, q.Size())
	}
	for i := 9; i >= 0; i-- {
		_, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, q.Size())
	}
}
