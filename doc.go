// Package tidepool provides a dynamically scaled worker pool built on a
// bounded lock-free MPMC queue.
//
// Tidepool is designed for many producers handing short-lived units of work
// to a small set of workers. The task queue is a fixed-capacity ring buffer
// using per-slot sequence counters, so contended submission stays lock-free;
// a blocking adapter adds closable, timed waits on top of it. A monitor
// goroutine grows the worker set under sustained load and surplus workers
// retire on their own after an idle keep-alive window.
//
// # Key Features
//
//   - Lock-free MPMC ring buffer with a full-queue overwrite primitive
//   - Three backpressure policies: Block, Discard, Overwrite
//   - Futures for result-bearing tasks, fire-and-forget Post for the rest
//   - Dynamic scaling between a core and a maximum worker count
//   - Pause/resume, graceful and forced shutdown
//   - Comprehensive statistics and a prometheus adapter
//
// # Quick Start
//
//	pool, err := tidepool.NewDefault(4, 1024)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := pool.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Stop(tidepool.StopGraceful)
//
//	fut, _ := tidepool.Submit(pool, func() (int, error) {
//	    return 6 * 7, nil
//	})
//	v, err := fut.Get()
//
// Fire-and-forget submission skips the future entirely:
//
//	_ = pool.Post(func() {
//	    fmt.Println("task executed")
//	})
//
// # Backpressure Policies
//
// When the queue is full, the configured policy decides what a submission
// does:
//
// Block (default) parks the submitter until a worker frees a slot or the
// pool stops. Use for backpressure control.
//
// Discard drops the incoming task. Its future resolves with ErrDiscarded
// and DiscardedTasks is incremented; the queue is untouched.
//
// Overwrite displaces the oldest queued task to make room. The displaced
// future resolves with ErrOverwritten. Use when only the freshest work
// matters, such as coalescing state updates.
//
// The policy can be swapped at runtime with SetQueueFullPolicy.
//
// # Dynamic Scaling
//
// The pool keeps CoreThreads workers alive permanently and scales up to
// MaxThreads when the monitor sees the queue backing up (PendingHi), or the
// busy ratio and the queue occupancy both at ScaleUpThreshold, for
// DebounceHits consecutive ticks (with a Cooldown between scale events). A surplus worker retires after sitting idle for the
// KeepAlive window. TriggerLoadCheck forces an immediate evaluation.
//
// # Shutdown
//
// Stop(StopGraceful) closes the queue to new submissions and drains what
// is already queued; every future resolves with its real outcome.
// Stop(StopForce) cancels everything still queued instead; those futures
// resolve with ErrCancelled. Running tasks are never interrupted in either
// mode. After Stop returns, submissions fail with ErrRejected.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Any number of
// goroutines may submit simultaneously without external synchronization.
package tidepool
