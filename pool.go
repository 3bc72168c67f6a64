package tidepool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PoolState represents pool lifecycle states.
type PoolState uint32

const (
	// StateCreated is the state before Start; submissions are accepted and
	// queued, workers are not running yet
	StateCreated PoolState = iota
	// StateRunning means workers are consuming the queue
	StateRunning
	// StateStopping means Stop has been called and workers are winding down
	StateStopping
	// StateStopped means every worker has been joined
	StateStopped
)

// String returns the state name.
func (s PoolState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Pool executes submitted tasks on a dynamically sized set of workers fed
// by a bounded MPMC queue. Producers choose a backpressure policy for the
// full-queue case; a monitor goroutine grows the worker set under load and
// surplus workers retire on their own once idle past the keep-alive window.
//
// The zero value is not usable; construct with New or NewDefault, then call
// Start.
type Pool struct {
	cfg   Config
	queue *BlockingQueue[taskEnvelope]

	state  uint32 // PoolState
	policy int32  // QueueFullPolicy

	// Pause gate. The bit is orthogonal to the lifecycle state: the queue
	// keeps accepting submissions while paused, only dequeueing stops.
	paused    uint32
	pauseMu   sync.Mutex
	pauseCond *sync.Cond

	// stopMode is meaningful once state reaches StateStopping
	stopMode int32

	workersMu sync.Mutex
	workers   map[*workerSlot]struct{}
	nextID    int
	wg        sync.WaitGroup

	// Monitor plumbing
	monitorStop chan struct{}
	monitorKick chan struct{}
	monitorWg   sync.WaitGroup

	// Gauges
	currentThreads int64
	activeThreads  int64
	peakThreads    int64

	// Counters; relaxed consistency is fine, gating flags live elsewhere
	submitted        uint64
	completed        uint64
	failed           uint64
	cancelled        uint64
	rejected         uint64
	discarded        uint64
	overwritten      uint64
	pausedWaits      uint64
	threadsCreated   uint64
	threadsDestroyed uint64
	execTimeNanos    uint64
	queueWaitNanos   uint64
	executedTasks    uint64
}

// workerSlot is the controller-side record of one worker goroutine.
type workerSlot struct {
	id int

	// retired is set by the worker itself when it claims an idle-timeout
	// retirement, so the exit path does not decrement the gauge twice.
	// Only the owning goroutine touches it.
	retired bool
}

// New creates a pool from a validated configuration. The configuration is
// normalised (defaults filled, max raised to core, capacity rounded to a
// power of two) before use.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.normalize()

	p := &Pool{
		cfg:         cfg,
		queue:       NewBlockingQueue[taskEnvelope](cfg.QueueCap),
		policy:      int32(cfg.QueuePolicy),
		workers:     make(map[*workerSlot]struct{}),
		monitorStop: make(chan struct{}),
		monitorKick: make(chan struct{}, 1),
	}
	p.pauseCond = sync.NewCond(&p.pauseMu)
	return p, nil
}

// NewDefault creates a pool with the given permanent worker count and queue
// capacity, default policy and scaling parameters.
func NewDefault(coreThreads, queueCap int) (*Pool, error) {
	cfg := DefaultConfig(queueCap)
	cfg.CoreThreads = coreThreads
	return New(cfg)
}

// Start spawns the core workers and the load monitor. It fails with
// ErrPoolStarted if the pool has already left the CREATED state.
func (p *Pool) Start() error {
	if !atomic.CompareAndSwapUint32(&p.state, uint32(StateCreated), uint32(StateRunning)) {
		return ErrPoolStarted
	}

	p.workersMu.Lock()
	for i := 0; i < p.cfg.CoreThreads; i++ {
		p.spawnWorkerLocked()
	}
	p.workersMu.Unlock()

	p.monitorWg.Add(1)
	go p.monitorRun()
	return nil
}

// Submit enqueues a result-bearing task and returns the future observing
// its outcome. A nil fn returns a nil future and ErrNilTask; otherwise the
// returned future is non-nil, and when the submission itself fails
// (rejected or discarded) it is already resolved with the same error that
// is returned.
//
// Example:
//
//	fut, err := tidepool.Submit(pool, func() (int, error) {
//	    return compute(), nil
//	})
//	if err == nil {
//	    v, err := fut.Get()
//	    ...
//	}
func Submit[R any](p *Pool, fn func() (R, error)) (*Future[R], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	env, fut := newFutureTask(fn, p.cfg.PanicHandler)
	if err := p.enqueue(env, func(err error) { env.Cancel(err) }); err != nil {
		return fut, err
	}
	return fut, nil
}

// Post enqueues a fire-and-forget task. Failures inside the task are only
// recorded in the statistics. The error reports submission failures:
// ErrRejected when the pool is not accepting, ErrDiscarded when the Discard
// policy dropped the task.
func (p *Pool) Post(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	env := newSimpleTask(fn, p.cfg.PanicHandler)
	return p.enqueue(env, nil)
}

// PostBatch enqueues a slice of fire-and-forget tasks without blocking,
// stopping at the first full slot regardless of policy. It returns the
// number of tasks accepted.
func (p *Pool) PostBatch(fns []func()) int {
	if !p.accepting() {
		atomic.AddUint64(&p.rejected, uint64(len(fns)))
		return 0
	}
	n := 0
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		if !p.queue.TryPush(newSimpleTask(fn, p.cfg.PanicHandler)) {
			break
		}
		n++
	}
	atomic.AddUint64(&p.submitted, uint64(n))
	return n
}

// enqueue runs the submission path: state gate, then the queue-full policy.
// settle resolves the envelope's completion state when the submission fails
// terminally (nil for envelopes without a future).
func (p *Pool) enqueue(env taskEnvelope, settle func(error)) error {
	if !p.accepting() {
		atomic.AddUint64(&p.rejected, 1)
		if settle != nil {
			settle(ErrRejected)
		}
		return ErrRejected
	}

	switch QueueFullPolicy(atomic.LoadInt32(&p.policy)) {
	case Discard:
		if !p.queue.TryPush(env) {
			if p.queue.Closed() {
				atomic.AddUint64(&p.rejected, 1)
				if settle != nil {
					settle(ErrRejected)
				}
				return ErrRejected
			}
			// Dropped on a full queue; the task was never enqueued but
			// still counts as submitted so the quiescence equation holds
			atomic.AddUint64(&p.submitted, 1)
			atomic.AddUint64(&p.discarded, 1)
			if settle != nil {
				settle(ErrDiscarded)
			}
			return ErrDiscarded
		}

	case Overwrite:
		ok := p.queue.OverwritePush(env, func(old taskEnvelope) {
			old.Cancel(ErrOverwritten)
			atomic.AddUint64(&p.overwritten, 1)
		})
		if !ok {
			atomic.AddUint64(&p.rejected, 1)
			if settle != nil {
				settle(ErrRejected)
			}
			return ErrRejected
		}

	default: // Block
		if !p.queue.WaitPush(env) {
			// The queue closed while we were parked (Stop raced)
			atomic.AddUint64(&p.rejected, 1)
			if settle != nil {
				settle(ErrRejected)
			}
			return ErrRejected
		}
	}

	atomic.AddUint64(&p.submitted, 1)
	return nil
}

// accepting reports whether submissions pass the state gate. Tasks are
// accepted before Start (they sit in the queue until workers exist) and
// while running, paused or not.
func (p *Pool) accepting() bool {
	switch p.loadState() {
	case StateCreated, StateRunning:
		return !p.queue.Closed()
	default:
		return false
	}
}

// Pause suspends dequeueing. Workers finish their current task and park;
// the queue keeps accepting submissions under the configured policy.
// Idempotent.
func (p *Pool) Pause() {
	atomic.StoreUint32(&p.paused, 1)
}

// Resume lifts a pause. Idempotent.
func (p *Pool) Resume() {
	atomic.StoreUint32(&p.paused, 0)
	p.pauseMu.Lock()
	p.pauseCond.Broadcast()
	p.pauseMu.Unlock()
}

// Paused reports whether the pause bit is set.
func (p *Pool) Paused() bool {
	return atomic.LoadUint32(&p.paused) == 1
}

// Stop shuts the pool down and blocks until every worker has been joined.
//
// StopGraceful closes the queue to new submissions and lets workers drain
// the remaining envelopes; every pending future resolves with its real
// outcome. StopForce closes the queue and cancels every envelope still
// queued (their futures resolve with ErrCancelled); tasks already executing
// are never interrupted.
//
// Stop fails with ErrPoolStopped if the pool is already stopping or
// stopped. Stopping a pool that was never started only settles the queued
// envelopes (cancelling them, since no worker will ever run them).
func (p *Pool) Stop(mode StopMode) error {
	if atomic.CompareAndSwapUint32(&p.state, uint32(StateCreated), uint32(StateStopping)) {
		// Never started: no workers, no monitor. Cancel whatever was
		// queued before Start so no future is left unresolved.
		p.queue.Close()
		p.queue.Clear(func(env taskEnvelope) {
			env.Cancel(ErrCancelled)
			atomic.AddUint64(&p.cancelled, 1)
		})
		atomic.StoreUint32(&p.state, uint32(StateStopped))
		return nil
	}

	if !atomic.CompareAndSwapUint32(&p.state, uint32(StateRunning), uint32(StateStopping)) {
		return ErrPoolStopped
	}
	atomic.StoreInt32(&p.stopMode, int32(mode))

	// Lift the pause so parked workers re-check state and drain or exit
	atomic.StoreUint32(&p.paused, 0)
	p.pauseMu.Lock()
	p.pauseCond.Broadcast()
	p.pauseMu.Unlock()

	// Closing first makes racing submissions observe Rejected instead of
	// enqueueing into a doomed queue. Pops keep succeeding until empty.
	p.queue.Close()

	if mode == StopForce {
		p.queue.Clear(func(env taskEnvelope) {
			env.Cancel(ErrCancelled)
			atomic.AddUint64(&p.cancelled, 1)
		})
	}

	// The monitor goes first so it cannot spawn workers while the join is
	// in progress.
	close(p.monitorStop)
	p.monitorWg.Wait()

	p.wg.Wait()

	atomic.StoreUint32(&p.state, uint32(StateStopped))
	return nil
}

// StopWithTimeout attempts a graceful stop, escalating to force if the pool
// has not stopped within d. The escalation cancels whatever is still queued
// at that point.
func (p *Pool) StopWithTimeout(d time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Stop(StopGraceful)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(d):
	}

	// Escalate: cancel the backlog so draining workers run dry, then wait
	// for the graceful call to finish the join.
	atomic.StoreInt32(&p.stopMode, int32(StopForce))
	p.queue.Clear(func(env taskEnvelope) {
		env.Cancel(ErrCancelled)
		atomic.AddUint64(&p.cancelled, 1)
	})
	return <-done
}

// SetQueueFullPolicy atomically replaces the backpressure policy. Takes
// effect for subsequent submissions.
func (p *Pool) SetQueueFullPolicy(policy QueueFullPolicy) {
	atomic.StoreInt32(&p.policy, int32(policy))
}

// QueueFullPolicy returns the current backpressure policy.
func (p *Pool) QueueFullPolicy() QueueFullPolicy {
	return QueueFullPolicy(atomic.LoadInt32(&p.policy))
}

// TriggerLoadCheck forces one immediate iteration of the scale monitor,
// bypassing its cooldown.
func (p *Pool) TriggerLoadCheck() {
	select {
	case p.monitorKick <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (p *Pool) State() PoolState {
	return p.loadState()
}

// Running reports whether the pool is in the RUNNING state.
func (p *Pool) Running() bool {
	return p.loadState() == StateRunning
}

// Pending returns the number of envelopes currently queued.
func (p *Pool) Pending() int {
	return p.queue.Size()
}

// ActiveTasks returns the number of tasks currently executing.
func (p *Pool) ActiveTasks() int {
	return int(atomic.LoadInt64(&p.activeThreads))
}

// CurrentThreads returns the number of workers spawned and not yet retired.
func (p *Pool) CurrentThreads() int {
	return int(atomic.LoadInt64(&p.currentThreads))
}

// ActiveThreads returns the number of workers currently inside a user task.
// A worker runs one task at a time, so this equals ActiveTasks.
func (p *Pool) ActiveThreads() int {
	return int(atomic.LoadInt64(&p.activeThreads))
}

// PausedWait returns the number of times a worker parked on the pause gate.
func (p *Pool) PausedWait() uint64 {
	return atomic.LoadUint64(&p.pausedWaits)
}

// DiscardedTasks returns the number of tasks dropped by the Discard policy.
func (p *Pool) DiscardedTasks() uint64 {
	return atomic.LoadUint64(&p.discarded)
}

// OverwrittenTasks returns the number of tasks displaced by the Overwrite
// policy.
func (p *Pool) OverwrittenTasks() uint64 {
	return atomic.LoadUint64(&p.overwritten)
}

// GetStatistics returns a snapshot of the pool's counters and gauges.
func (p *Pool) GetStatistics() Statistics {
	completed := atomic.LoadUint64(&p.completed)
	executed := atomic.LoadUint64(&p.executedTasks)
	execNanos := atomic.LoadUint64(&p.execTimeNanos)
	waitNanos := atomic.LoadUint64(&p.queueWaitNanos)

	pending := p.queue.Size()
	current := atomic.LoadInt64(&p.currentThreads)
	active := atomic.LoadInt64(&p.activeThreads)

	stats := Statistics{
		TotalSubmitted:        atomic.LoadUint64(&p.submitted),
		TotalCompleted:        completed,
		TotalFailed:           atomic.LoadUint64(&p.failed),
		TotalCancelled:        atomic.LoadUint64(&p.cancelled),
		TotalRejected:         atomic.LoadUint64(&p.rejected),
		Discarded:             atomic.LoadUint64(&p.discarded),
		Overwritten:           atomic.LoadUint64(&p.overwritten),
		TotalExecTime:         time.Duration(execNanos),
		PendingTasks:          pending,
		PendingRatio:          float64(pending) / float64(p.queue.Capacity()),
		CurrentThreads:        int(current),
		ActiveThreads:         int(active),
		PeakThreads:           int(atomic.LoadInt64(&p.peakThreads)),
		TotalThreadsCreated:   atomic.LoadUint64(&p.threadsCreated),
		TotalThreadsDestroyed: atomic.LoadUint64(&p.threadsDestroyed),
		PausedWaits:           atomic.LoadUint64(&p.pausedWaits),
	}
	if completed > 0 {
		stats.AvgExecTime = time.Duration(execNanos / completed)
	}
	if executed > 0 {
		stats.AvgQueueWait = time.Duration(waitNanos / executed)
	}
	if current > 0 {
		stats.BusyRatio = float64(active) / float64(current)
	}
	return stats
}

// ResetStatistics zeroes every counter and re-bases the peak thread gauge
// at the current worker count. Gauges that mirror live state are untouched.
func (p *Pool) ResetStatistics() {
	atomic.StoreUint64(&p.submitted, 0)
	atomic.StoreUint64(&p.completed, 0)
	atomic.StoreUint64(&p.failed, 0)
	atomic.StoreUint64(&p.cancelled, 0)
	atomic.StoreUint64(&p.rejected, 0)
	atomic.StoreUint64(&p.discarded, 0)
	atomic.StoreUint64(&p.overwritten, 0)
	atomic.StoreUint64(&p.pausedWaits, 0)
	atomic.StoreUint64(&p.threadsCreated, 0)
	atomic.StoreUint64(&p.threadsDestroyed, 0)
	atomic.StoreUint64(&p.execTimeNanos, 0)
	atomic.StoreUint64(&p.queueWaitNanos, 0)
	atomic.StoreUint64(&p.executedTasks, 0)
	atomic.StoreInt64(&p.peakThreads, atomic.LoadInt64(&p.currentThreads))
	p.queue.ResetDiscardCounter()
}

func (p *Pool) loadState() PoolState {
	return PoolState(atomic.LoadUint32(&p.state))
}

// spawnWorkerLocked creates a worker record and launches its goroutine.
// Caller holds workersMu.
func (p *Pool) spawnWorkerLocked() {
	w := &workerSlot{id: p.nextID}
	p.nextID++
	p.workers[w] = struct{}{}

	cur := atomic.AddInt64(&p.currentThreads, 1)
	atomic.AddUint64(&p.threadsCreated, 1)
	for {
		peak := atomic.LoadInt64(&p.peakThreads)
		if cur <= peak || atomic.CompareAndSwapInt64(&p.peakThreads, peak, cur) {
			break
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.workerRun(w)
	}()
}
