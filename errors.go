package tidepool

import "fmt"

// Outcome errors carried by futures, plus the lifecycle errors returned by
// the pool's own methods.
var (
	// ErrRejected is the outcome of a submission the pool refused because it
	// is not accepting tasks (stopped, stopping, or the queue closed while
	// the submission was in flight).
	//
	// Example:
	//  pool.Stop(tidepool.StopGraceful)
	//  err := pool.Post(task)
	//  if errors.Is(err, tidepool.ErrRejected) {
	//      log.Println("pool is no longer accepting tasks")
	//  }
	ErrRejected = &PoolError{msg: "submission rejected"}

	// ErrDiscarded is the outcome of a task dropped by the Discard policy
	// when the queue was full. The task was never enqueued.
	ErrDiscarded = &PoolError{msg: "task discarded"}

	// ErrOverwritten is the outcome of a queued task displaced by a newer
	// submission under the Overwrite policy.
	ErrOverwritten = &PoolError{msg: "task overwritten"}

	// ErrCancelled is the outcome of a queued task removed before it ran:
	// by Stop(Force), by StopWithTimeout's escalation, or by stopping a pool
	// that was never started.
	ErrCancelled = &PoolError{msg: "task cancelled"}

	// ErrNilTask is returned when attempting to submit a nil function.
	ErrNilTask = &PoolError{msg: "task is nil"}

	// ErrPoolStarted is returned by Start when the pool has already left the
	// CREATED state.
	ErrPoolStarted = &PoolError{msg: "pool already started"}

	// ErrPoolStopped is returned by Stop when the pool is already stopping
	// or stopped.
	ErrPoolStopped = &PoolError{msg: "pool already stopped"}
)

// PoolError represents an error that occurred within the worker pool.
// It wraps underlying errors and provides context about pool operations.
//
// PoolError implements the error interface and supports error unwrapping
// via errors.Unwrap for compatibility with errors.Is and errors.As.
type PoolError struct {
	msg string // Human-readable error message
	err error  // Underlying error (if any)
}

// Error returns a formatted error message.
// If an underlying error exists, it is included in the output.
func (e *PoolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("tidepool: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("tidepool: %s", e.msg)
}

// Unwrap returns the underlying error, allowing use with errors.Is and
// errors.As.
func (e *PoolError) Unwrap() error {
	return e.err
}

// errInvalidConfig creates an error for invalid pool configuration.
// This is returned during pool creation and config loading when validation
// fails.
func errInvalidConfig(msg string) error {
	return &PoolError{msg: "invalid config: " + msg}
}

// PanicError is the failure a future carries when the task panicked. The
// recovered value and the goroutine stack at the point of the panic are
// preserved.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tidepool: task panicked: %v", e.Value)
}
