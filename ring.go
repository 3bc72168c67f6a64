package tidepool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// CacheLinePad prevents false sharing by padding to cache line size (64 bytes)
type CacheLinePad struct {
	_ [64]byte
}

// ringSlot is a single cell of the ring. The sequence number encodes whose
// turn the cell is: seq == pos means writable for the producer claiming pos,
// seq == pos+1 means readable for the consumer claiming pos.
type ringSlot[T any] struct {
	seq uint64
	val T
}

// RingBuffer is a bounded, lock-free MPMC (Multi-Producer Multi-Consumer)
// queue. Any number of goroutines may push and pop concurrently.
//
// Each slot carries its own sequence counter (the Vyukov discipline):
// producers and consumers claim positions with a CAS and hand the slot over
// with a release-store on the sequence, so a successful pop always observes
// the value written by the corresponding push.
//
// Capacity is rounded up to a power of two, minimum 2.
type RingBuffer[T any] struct {
	// Padding keeps the producer and consumer positions on their own
	// cache lines.
	_ CacheLinePad

	// producerPos is the next position a producer will claim.
	// Always incremented, never decremented.
	producerPos uint64

	_ CacheLinePad

	// consumerPos is the next position a consumer will claim.
	consumerPos uint64

	_ CacheLinePad

	slots []ringSlot[T]

	// mask is capacity-1, used for fast modulo via bitwise AND
	mask uint64

	// capacity is the adjusted (power of two) capacity
	capacity uint64

	// overwriteMu serialises the TryOverwrite slow path. Push and pop never
	// touch it, so Block/Discard usage pays nothing for it.
	overwriteMu sync.Mutex
}

// NewRingBuffer creates a ring buffer holding at least capacity elements.
// Capacities below 2 and non-powers of two are rounded up.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	adjusted := uint64(nextPowerOfTwo(capacity))
	if adjusted < 2 {
		adjusted = 2
	}

	b := &RingBuffer[T]{
		slots:    make([]ringSlot[T], adjusted),
		mask:     adjusted - 1,
		capacity: adjusted,
	}
	for i := range b.slots {
		b.slots[i].seq = uint64(i)
	}
	return b
}

// TryPush attempts to enqueue a value. It returns false if the buffer is
// full; the caller keeps the value and may retry or dispose of it. The
// operation never blocks.
func (b *RingBuffer[T]) TryPush(v T) bool {
	pos := atomic.LoadUint64(&b.producerPos)
	for {
		slot := &b.slots[pos&b.mask]
		seq := atomic.LoadUint64(&slot.seq)

		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			// Slot is writable for this round; try to claim the position
			if atomic.CompareAndSwapUint64(&b.producerPos, pos, pos+1) {
				slot.val = v
				// Publish: consumers spin on seq == pos+1
				atomic.StoreUint64(&slot.seq, pos+1)
				return true
			}
			pos = atomic.LoadUint64(&b.producerPos)
		case diff < 0:
			// The slot still holds the previous round's value: full
			return false
		default:
			// Another producer claimed this position; reload and retry
			pos = atomic.LoadUint64(&b.producerPos)
		}
	}
}

// TryPop attempts to dequeue the oldest value. It returns false if the
// buffer is empty. The operation never blocks.
func (b *RingBuffer[T]) TryPop() (T, bool) {
	var zero T
	pos := atomic.LoadUint64(&b.consumerPos)
	for {
		slot := &b.slots[pos&b.mask]
		seq := atomic.LoadUint64(&slot.seq)

		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			// Slot holds a published value; try to claim the position
			if atomic.CompareAndSwapUint64(&b.consumerPos, pos, pos+1) {
				v := slot.val
				// Clear the cell so the GC can reclaim the value
				slot.val = zero
				// Hand the slot back to producers for the next round
				atomic.StoreUint64(&slot.seq, pos+b.capacity)
				return v, true
			}
			pos = atomic.LoadUint64(&b.consumerPos)
		case diff < 0:
			// The producer for this round has not published yet: empty
			return zero, false
		default:
			// Another consumer claimed this position; reload and retry
			pos = atomic.LoadUint64(&b.consumerPos)
		}
	}
}

// TryOverwrite enqueues a value even when the buffer is full, displacing the
// oldest published value if necessary. Each displaced value is reported
// through onDrop before the new value is published, so the owner can settle
// its completion state.
//
// The fast path is a plain TryPush. Only when the buffer is full does the
// call take the overwrite mutex, pop the oldest item, and retry the push.
// Concurrent consumers may race the pop; the loop simply retries until the
// value is published, so the call always returns true. The boolean keeps the
// signature parallel with TryPush for callers that dispatch on policy.
func (b *RingBuffer[T]) TryOverwrite(v T, onDrop func(T)) bool {
	if b.TryPush(v) {
		return true
	}

	b.overwriteMu.Lock()
	defer b.overwriteMu.Unlock()

	for {
		if b.TryPush(v) {
			return true
		}
		old, ok := b.TryPop()
		if !ok {
			// A consumer is mid-claim on the head slot; give it a moment
			runtime.Gosched()
			continue
		}
		if onDrop != nil {
			onDrop(old)
		}
	}
}

// ApproxSize returns the number of buffered elements. The value is a
// best-effort snapshot and may be stale under concurrent operations.
func (b *RingBuffer[T]) ApproxSize() int {
	p := atomic.LoadUint64(&b.producerPos)
	c := atomic.LoadUint64(&b.consumerPos)
	if p <= c {
		return 0
	}
	return int(p - c)
}

// Capacity returns the adjusted capacity of the buffer.
func (b *RingBuffer[T]) Capacity() int {
	return int(b.capacity)
}

// Empty reports whether the buffer appears empty. Snapshot semantics.
func (b *RingBuffer[T]) Empty() bool {
	return b.ApproxSize() == 0
}

// Full reports whether the buffer appears full. Snapshot semantics.
func (b *RingBuffer[T]) Full() bool {
	return b.ApproxSize() >= int(b.capacity)
}
