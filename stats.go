package tidepool

import "time"

// Statistics is a snapshot of the pool's counters and gauges. All values
// are read with atomic loads and may be slightly inconsistent with each
// other while the pool is running; once the pool is STOPPED the snapshot is
// exact and satisfies
//
//	TotalSubmitted == TotalCompleted + TotalFailed + TotalCancelled +
//	                  Discarded + Overwritten
//
// Example:
//
//	stats := pool.GetStatistics()
//	fmt.Printf("completed %d of %d\n", stats.TotalCompleted, stats.TotalSubmitted)
type Statistics struct {
	// TotalSubmitted is the number of submissions that passed the state
	// gate and were not rejected in the policy step. It includes tasks the
	// Discard policy subsequently dropped, but no rejected submission.
	TotalSubmitted uint64

	// TotalCompleted is the number of tasks that executed without failure.
	TotalCompleted uint64

	// TotalFailed is the number of tasks whose execution returned an error
	// or panicked.
	TotalFailed uint64

	// TotalCancelled is the number of queued tasks removed before they ran
	// (Stop(Force), StopWithTimeout's escalation, or stopping a pool that
	// was never started).
	TotalCancelled uint64

	// TotalRejected is the number of submissions refused at the state gate
	// or by a closed queue. Rejected tasks are not counted in
	// TotalSubmitted.
	TotalRejected uint64

	// Discarded is the number of tasks dropped by the Discard policy.
	Discarded uint64

	// Overwritten is the number of queued tasks displaced by the Overwrite
	// policy.
	Overwritten uint64

	// TotalExecTime is the accumulated wall time spent inside user tasks.
	TotalExecTime time.Duration

	// AvgExecTime is the running mean of task execution time over
	// TotalCompleted. Zero if nothing has completed.
	AvgExecTime time.Duration

	// AvgQueueWait is the running mean of the interval between submission
	// and execution start, over every executed task.
	AvgQueueWait time.Duration

	// PendingTasks is the number of envelopes currently in the queue.
	PendingTasks int

	// PendingRatio is PendingTasks over the effective queue capacity.
	PendingRatio float64

	// BusyRatio is ActiveThreads over CurrentThreads. Zero when no workers
	// are alive.
	BusyRatio float64

	// CurrentThreads is the number of workers spawned and not yet retired.
	CurrentThreads int

	// ActiveThreads is the number of workers currently inside a user task.
	ActiveThreads int

	// PeakThreads is the maximum CurrentThreads observed since Start (or
	// the last ResetStatistics).
	PeakThreads int

	// TotalThreadsCreated and TotalThreadsDestroyed count worker spawn and
	// retire events, including dynamic scaling.
	TotalThreadsCreated   uint64
	TotalThreadsDestroyed uint64

	// PausedWaits is the number of times a goroutine parked on the pause
	// gate.
	PausedWaits uint64
}
