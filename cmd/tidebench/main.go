// Command tidebench drives a tidepool.Pool with a configurable load and
// reports throughput plus the final statistics snapshot. It reads the same
// JSON configuration format the library's ParseConfig accepts and can
// optionally expose the pool's prometheus metrics while the run is active.
//
// Usage:
//
//	tidebench -config pool.json -tasks 1000000 -producers 8 -work 5us
//	tidebench -queue-cap 4096 -core 4 -max 16 -duration 30s -metrics :9090
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/queueworks/tidepool"
	"github.com/queueworks/tidepool/metrics"
)

func main() {
	var (
		configPath  = flag.String("config", "", "JSON pool configuration file")
		queueCap    = flag.Int("queue-cap", 4096, "queue capacity when no config file is given")
		coreThreads = flag.Int("core", 4, "core workers when no config file is given")
		maxThreads  = flag.Int("max", 0, "max workers when no config file is given (0 = core)")
		policy      = flag.String("policy", "block", "queue-full policy: block, discard, overwrite")
		totalTasks  = flag.Int("tasks", 1_000_000, "number of tasks in task mode")
		duration    = flag.Duration("duration", 0, "run for a fixed time instead of a task count")
		producers   = flag.Int("producers", 4, "concurrent submitter goroutines")
		work        = flag.Duration("work", 0, "busy-wait per task")
		metricsAddr = flag.String("metrics", "", "serve prometheus metrics on this address during the run")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *queueCap, *coreThreads, *maxThreads, *policy)
	if err != nil {
		log.Fatalf("tidebench: %v", err)
	}

	pool, err := tidepool.New(cfg)
	if err != nil {
		log.Fatalf("tidebench: %v", err)
	}
	if err := pool.Start(); err != nil {
		log.Fatalf("tidebench: %v", err)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewPoolCollector(pool))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("tidebench: metrics server: %v", err)
			}
		}()
	}

	task := makeTask(*work)

	ctx := context.Background()
	var cancel context.CancelFunc
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *producers; i++ {
		share := *totalTasks / *producers
		if i == 0 {
			share += *totalTasks % *producers
		}
		g.Go(func() error {
			return produce(ctx, pool, task, share, *duration > 0)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("tidebench: producers: %v", err)
	}

	if err := pool.Stop(tidepool.StopGraceful); err != nil {
		log.Printf("tidebench: stop: %v", err)
	}
	elapsed := time.Since(start)

	report(pool.GetStatistics(), elapsed)
}

func loadConfig(path string, queueCap, core, max int, policy string) (tidepool.Config, error) {
	if path != "" {
		return tidepool.LoadConfigFile(path)
	}
	cfg := tidepool.DefaultConfig(queueCap)
	cfg.CoreThreads = core
	cfg.MaxThreads = max
	p, err := tidepool.ParseQueueFullPolicy(policy)
	if err != nil {
		return tidepool.Config{}, err
	}
	cfg.QueuePolicy = p
	return cfg, nil
}

// makeTask builds the per-task payload: either a no-op or a busy-wait of
// the requested length.
func makeTask(work time.Duration) func() {
	if work <= 0 {
		return func() {}
	}
	return func() {
		deadline := time.Now().Add(work)
		for time.Now().Before(deadline) {
		}
	}
}

// produce submits either a fixed share of tasks or, in duration mode, as
// many as fit before the context expires.
func produce(ctx context.Context, pool *tidepool.Pool, task func(), share int, timed bool) error {
	for i := 0; timed || i < share; i++ {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := pool.Post(task); err != nil {
			if err == tidepool.ErrDiscarded {
				continue
			}
			return err
		}
	}
	return nil
}

func report(stats tidepool.Statistics, elapsed time.Duration) {
	throughput := float64(stats.TotalCompleted) / elapsed.Seconds()

	fmt.Fprintf(os.Stdout, "elapsed:        %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "throughput:     %.0f tasks/s\n", throughput)
	fmt.Fprintf(os.Stdout, "submitted:      %d\n", stats.TotalSubmitted)
	fmt.Fprintf(os.Stdout, "completed:      %d\n", stats.TotalCompleted)
	fmt.Fprintf(os.Stdout, "failed:         %d\n", stats.TotalFailed)
	fmt.Fprintf(os.Stdout, "cancelled:      %d\n", stats.TotalCancelled)
	fmt.Fprintf(os.Stdout, "rejected:       %d\n", stats.TotalRejected)
	fmt.Fprintf(os.Stdout, "discarded:      %d\n", stats.Discarded)
	fmt.Fprintf(os.Stdout, "overwritten:    %d\n", stats.Overwritten)
	fmt.Fprintf(os.Stdout, "avg exec:       %v\n", stats.AvgExecTime)
	fmt.Fprintf(os.Stdout, "avg queue wait: %v\n", stats.AvgQueueWait)
	fmt.Fprintf(os.Stdout, "peak threads:   %d\n", stats.PeakThreads)
}
