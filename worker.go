package tidepool

import (
	"sync/atomic"
	"time"
)

// workerRun is the main loop of one worker goroutine.
//
// The loop parks on the pause gate, then waits on the queue for up to the
// keep-alive window. A timed-out surplus worker retires on its own; a
// timed-out core worker just loops. Once the queue is closed and drained
// the worker exits.
func (p *Pool) workerRun(w *workerSlot) {
	if p.cfg.OnWorkerStart != nil {
		p.cfg.OnWorkerStart(w.id)
	}
	defer func() {
		p.exitWorker(w)
		if p.cfg.OnWorkerStop != nil {
			p.cfg.OnWorkerStop(w.id)
		}
	}()

	for {
		p.pauseGate()

		env, ok := p.queue.WaitPopFor(p.cfg.KeepAlive)
		if !ok {
			if p.queue.Closed() {
				// Closed and drained
				return
			}
			// Idle timeout: retire if the pool is above core size
			if p.tryRetire(w) {
				return
			}
			continue
		}

		// A task popped just as Pause landed is held at the gate rather
		// than executed; Stop(Force) during the pause cancels it.
		if p.Paused() && p.loadState() == StateRunning {
			if !p.holdPaused(env) {
				continue
			}
		}

		p.execute(env)
	}
}

// pauseGate parks the caller while the pause bit is set and the pool is
// running. Each park is counted once.
func (p *Pool) pauseGate() {
	if !p.Paused() {
		return
	}
	p.pauseMu.Lock()
	for p.Paused() && p.loadState() == StateRunning {
		atomic.AddUint64(&p.pausedWaits, 1)
		p.pauseCond.Wait()
	}
	p.pauseMu.Unlock()
}

// holdPaused parks with a dequeued envelope in hand until the pause lifts.
// It returns false when the pool moved to a force stop while parked; the
// envelope is cancelled in that case and must not be executed.
func (p *Pool) holdPaused(env taskEnvelope) bool {
	p.pauseMu.Lock()
	for p.Paused() && p.loadState() == StateRunning {
		atomic.AddUint64(&p.pausedWaits, 1)
		p.pauseCond.Wait()
	}
	p.pauseMu.Unlock()

	if p.loadState() == StateStopping && StopMode(atomic.LoadInt32(&p.stopMode)) == StopForce {
		env.Cancel(ErrCancelled)
		atomic.AddUint64(&p.cancelled, 1)
		return false
	}
	return true
}

// execute runs one envelope, maintaining the active gauge, the execution
// counters, and the running means.
func (p *Pool) execute(env taskEnvelope) {
	start := time.Now()
	wait := start.Sub(env.EnqueuedAt())
	if wait > 0 {
		atomic.AddUint64(&p.queueWaitNanos, uint64(wait.Nanoseconds()))
	}
	atomic.AddUint64(&p.executedTasks, 1)

	atomic.AddInt64(&p.activeThreads, 1)
	env.Execute()
	atomic.AddInt64(&p.activeThreads, -1)

	span := time.Since(start)
	atomic.AddUint64(&p.execTimeNanos, uint64(span.Nanoseconds()))

	if env.Succeeded() {
		atomic.AddUint64(&p.completed, 1)
	} else {
		atomic.AddUint64(&p.failed, 1)
	}
}

// tryRetire claims an idle-timeout retirement. The CAS on the gauge makes
// the above-core check and the decrement one step, so concurrent timeouts
// cannot shrink the pool below its core size.
func (p *Pool) tryRetire(w *workerSlot) bool {
	for {
		cur := atomic.LoadInt64(&p.currentThreads)
		if cur <= int64(p.cfg.CoreThreads) {
			return false
		}
		if atomic.CompareAndSwapInt64(&p.currentThreads, cur, cur-1) {
			w.retired = true
			return true
		}
	}
}

// exitWorker removes the worker's record and settles the gauges. Retired
// workers already gave back their slot in tryRetire.
func (p *Pool) exitWorker(w *workerSlot) {
	p.workersMu.Lock()
	delete(p.workers, w)
	p.workersMu.Unlock()

	if !w.retired {
		atomic.AddInt64(&p.currentThreads, -1)
	}
	atomic.AddUint64(&p.threadsDestroyed, 1)
}
