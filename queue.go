package tidepool

import (
	"sync"
	"sync/atomic"
	"time"
)

// BlockingQueue wraps a RingBuffer with a condition protocol: blocking and
// timed push/pop, close semantics, and a discard counter. The lock-free fast
// paths of the ring are preserved; the mutex exists only to park waiters.
//
// Wakeups are edge-triggered: a successful push signals not-empty, a
// successful pop signals not-full, Close broadcasts both.
type BlockingQueue[T any] struct {
	ring *RingBuffer[T]

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	// Waiter headcounts, maintained under mu, read without it. A signaler
	// skips the mutex entirely when nobody is parked, keeping the
	// uncontended push/pop paths lock-free.
	fullWaiters  int64
	emptyWaiters int64

	// closed flips once; pushes fail immediately, pops fail once drained
	closed uint32

	// pending mirrors the number of published elements
	pending int64

	// discards counts items the adapter itself refused on a full buffer
	discards uint64
}

// NewBlockingQueue creates a closable blocking queue over a ring buffer of
// at least the given capacity.
func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	q := &BlockingQueue[T]{
		ring: NewRingBuffer[T](capacity),
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// TryPush attempts a non-blocking enqueue. It returns false if the queue is
// closed or full; a full-queue refusal increments the discard counter.
func (q *BlockingQueue[T]) TryPush(v T) bool {
	if q.Closed() {
		return false
	}
	if q.ring.TryPush(v) {
		atomic.AddInt64(&q.pending, 1)
		q.signalNotEmpty()
		return true
	}
	atomic.AddUint64(&q.discards, 1)
	return false
}

// TryPop attempts a non-blocking dequeue.
func (q *BlockingQueue[T]) TryPop() (T, bool) {
	v, ok := q.ring.TryPop()
	if ok {
		atomic.AddInt64(&q.pending, -1)
		q.signalNotFull()
	}
	return v, ok
}

// WaitPush enqueues v, blocking while the queue is full. It returns false if
// the queue is or becomes closed.
func (q *BlockingQueue[T]) WaitPush(v T) bool {
	return q.waitPush(v, false, 0)
}

// WaitPushFor is WaitPush with a deadline. It returns false if the queue is
// closed or the timeout elapses before space is available; a timeout
// increments the discard counter.
func (q *BlockingQueue[T]) WaitPushFor(v T, d time.Duration) bool {
	return q.waitPush(v, true, d)
}

func (q *BlockingQueue[T]) waitPush(v T, timed bool, d time.Duration) bool {
	if q.Closed() {
		return false
	}
	// Fast path: lock-free enqueue
	if q.ring.TryPush(v) {
		atomic.AddInt64(&q.pending, 1)
		q.signalNotEmpty()
		return true
	}

	var deadline time.Time
	if timed {
		deadline = time.Now().Add(d)
		// sync.Cond has no timed wait; the timer broadcasts so every
		// waiter re-checks its own deadline.
		timer := time.AfterFunc(d, func() {
			q.mu.Lock()
			q.notFull.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	for {
		if q.Closed() {
			q.mu.Unlock()
			return false
		}
		if q.ring.TryPush(v) {
			atomic.AddInt64(&q.pending, 1)
			q.mu.Unlock()
			q.signalNotEmpty()
			return true
		}
		if timed && !time.Now().Before(deadline) {
			q.mu.Unlock()
			atomic.AddUint64(&q.discards, 1)
			return false
		}
		// Register before the final re-check: a popper that saw zero
		// waiters completed its pop before this check, so the retry
		// observes the freed slot instead of sleeping through it.
		atomic.AddInt64(&q.fullWaiters, 1)
		if q.ring.TryPush(v) {
			atomic.AddInt64(&q.fullWaiters, -1)
			atomic.AddInt64(&q.pending, 1)
			q.mu.Unlock()
			q.signalNotEmpty()
			return true
		}
		q.notFull.Wait()
		atomic.AddInt64(&q.fullWaiters, -1)
	}
}

// WaitPop dequeues a value, blocking while the queue is empty. It returns
// false once the queue is closed and drained.
func (q *BlockingQueue[T]) WaitPop() (T, bool) {
	return q.waitPop(false, 0)
}

// WaitPopFor is WaitPop with a deadline. It returns false if the timeout
// elapses with the queue still empty, or once the queue is closed and
// drained.
func (q *BlockingQueue[T]) WaitPopFor(d time.Duration) (T, bool) {
	return q.waitPop(true, d)
}

func (q *BlockingQueue[T]) waitPop(timed bool, d time.Duration) (T, bool) {
	// Fast path: lock-free dequeue
	if v, ok := q.ring.TryPop(); ok {
		atomic.AddInt64(&q.pending, -1)
		q.signalNotFull()
		return v, true
	}

	var zero T
	var deadline time.Time
	if timed {
		deadline = time.Now().Add(d)
		timer := time.AfterFunc(d, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	for {
		if v, ok := q.ring.TryPop(); ok {
			atomic.AddInt64(&q.pending, -1)
			q.mu.Unlock()
			q.signalNotFull()
			return v, true
		}
		if q.Closed() {
			q.mu.Unlock()
			return zero, false
		}
		if timed && !time.Now().Before(deadline) {
			q.mu.Unlock()
			return zero, false
		}
		// Register before the final re-check; see waitPush.
		atomic.AddInt64(&q.emptyWaiters, 1)
		if v, ok := q.ring.TryPop(); ok {
			atomic.AddInt64(&q.emptyWaiters, -1)
			atomic.AddInt64(&q.pending, -1)
			q.mu.Unlock()
			q.signalNotFull()
			return v, true
		}
		q.notEmpty.Wait()
		atomic.AddInt64(&q.emptyWaiters, -1)
	}
}

// OverwritePush enqueues v even when the queue is full, displacing the
// oldest buffered values as needed. Displaced values are reported through
// onDrop. It returns false only if the queue is closed.
func (q *BlockingQueue[T]) OverwritePush(v T, onDrop func(T)) bool {
	if q.Closed() {
		return false
	}
	ok := q.ring.TryOverwrite(v, func(old T) {
		atomic.AddInt64(&q.pending, -1)
		if onDrop != nil {
			onDrop(old)
		}
	})
	if ok {
		atomic.AddInt64(&q.pending, 1)
		q.signalNotEmpty()
	}
	return ok
}

// Close marks the queue closed and wakes every parked producer and consumer.
// Subsequent pushes fail; pops keep succeeding until the buffer is drained.
func (q *BlockingQueue[T]) Close() {
	atomic.StoreUint32(&q.closed, 1)
	q.mu.Lock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Closed reports whether Close has been called.
func (q *BlockingQueue[T]) Closed() bool {
	return atomic.LoadUint32(&q.closed) == 1
}

// Clear drains every buffered value, invoking visit on each, and wakes
// parked producers so they observe either space or closure. It returns the
// number of values removed.
func (q *BlockingQueue[T]) Clear(visit func(T)) int {
	n := 0
	for {
		v, ok := q.ring.TryPop()
		if !ok {
			break
		}
		atomic.AddInt64(&q.pending, -1)
		n++
		if visit != nil {
			visit(v)
		}
	}
	if n > 0 {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	}
	return n
}

// Size returns the number of buffered values.
func (q *BlockingQueue[T]) Size() int {
	n := atomic.LoadInt64(&q.pending)
	if n < 0 {
		return 0
	}
	return int(n)
}

// Capacity returns the adjusted ring capacity.
func (q *BlockingQueue[T]) Capacity() int {
	return q.ring.Capacity()
}

// DiscardCount returns the number of items the adapter dropped on a full
// buffer (failed TryPush, timed-out WaitPushFor).
func (q *BlockingQueue[T]) DiscardCount() uint64 {
	return atomic.LoadUint64(&q.discards)
}

// ResetDiscardCounter zeroes the discard counter.
func (q *BlockingQueue[T]) ResetDiscardCounter() {
	atomic.StoreUint64(&q.discards, 0)
}

func (q *BlockingQueue[T]) signalNotEmpty() {
	if atomic.LoadInt64(&q.emptyWaiters) == 0 {
		return
	}
	q.mu.Lock()
	q.notEmpty.Signal()
	q.mu.Unlock()
}

func (q *BlockingQueue[T]) signalNotFull() {
	if atomic.LoadInt64(&q.fullWaiters) == 0 {
		return
	}
	q.mu.Lock()
	q.notFull.Signal()
	q.mu.Unlock()
}
