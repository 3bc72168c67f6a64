package tidepool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// QueueFullPolicy defines how a submission behaves when the task queue is
// full.
type QueueFullPolicy int32

const (
	// Block parks the submitter until space is available or the queue closes
	Block QueueFullPolicy = iota
	// Discard drops the incoming task; its future resolves with ErrDiscarded
	Discard
	// Overwrite displaces the oldest queued task; the displaced future
	// resolves with ErrOverwritten
	Overwrite
)

// String returns the policy's configuration name.
func (p QueueFullPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case Discard:
		return "discard"
	case Overwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("policy(%d)", int32(p))
	}
}

// ParseQueueFullPolicy parses a policy name, case-insensitively.
func ParseQueueFullPolicy(s string) (QueueFullPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return Block, nil
	case "discard":
		return Discard, nil
	case "overwrite":
		return Overwrite, nil
	default:
		return Block, errInvalidConfig(fmt.Sprintf("unknown queue_policy %q", s))
	}
}

// StopMode selects between the two shutdown flavours of Pool.Stop.
type StopMode int

const (
	// StopGraceful drains the queue before joining workers
	StopGraceful StopMode = iota
	// StopForce cancels every queued task, then joins workers. In-flight
	// tasks are never interrupted.
	StopForce
)

// String returns the mode name.
func (m StopMode) String() string {
	if m == StopForce {
		return "force"
	}
	return "graceful"
}

// Config contains all configuration options for the worker pool.
// QueueCap is the only required field; zero values elsewhere select the
// documented defaults during normalisation.
type Config struct {
	// QueueCap is the task queue capacity. Required. Rounded up to a power
	// of two, minimum 2.
	QueueCap int

	// CoreThreads is the permanent worker count. Defaults to 1.
	CoreThreads int

	// MaxThreads is the upper bound on dynamically scaled workers.
	// Defaults to CoreThreads; values below CoreThreads are raised to it.
	MaxThreads int

	// KeepAlive is the idle window after which a surplus worker retires.
	// Defaults to 60s.
	KeepAlive time.Duration

	// LoadCheckInterval is the monitor's sampling tick. Defaults to 20ms.
	LoadCheckInterval time.Duration

	// ScaleUpThreshold is the busy-ratio bound above which the monitor
	// considers growing the worker set. Defaults to 0.8.
	ScaleUpThreshold float64

	// ScaleDownThreshold is the busy-ratio bound below which the monitor
	// considers the pool over-provisioned. Defaults to 0.2.
	ScaleDownThreshold float64

	// PendingHi and PendingLow are queue-length triggers for scaling.
	// When zero they are inferred: hi = max(1, cap/2), low = max(1, cap/8).
	PendingHi  int
	PendingLow int

	// DebounceHits is the number of consecutive monitor ticks a scale
	// condition must hold before acting. Defaults to 3.
	DebounceHits int

	// Cooldown is the minimum interval between scale events.
	// Defaults to 500ms.
	Cooldown time.Duration

	// QueuePolicy is the backpressure policy applied on a full queue.
	// Defaults to Block.
	QueuePolicy QueueFullPolicy

	// PanicHandler is called with the recovered value when a task panics.
	// Optional.
	PanicHandler func(any)

	// OnWorkerStart is called on a worker's goroutine as it starts.
	// Useful for initialization, logging, or tracing. Optional.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called on a worker's goroutine as it exits. Optional.
	OnWorkerStop func(workerID int)
}

// DefaultConfig returns a Config with the documented defaults and the given
// queue capacity.
func DefaultConfig(queueCap int) Config {
	return Config{
		QueueCap:           queueCap,
		CoreThreads:        1,
		KeepAlive:          60 * time.Second,
		LoadCheckInterval:  20 * time.Millisecond,
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.2,
		DebounceHits:       3,
		Cooldown:           500 * time.Millisecond,
		QueuePolicy:        Block,
	}
}

// Validate checks the configuration and returns an error if a field is
// outside its domain. Cross-field inconsistencies (max < core, low > hi)
// are not errors; normalisation repairs them.
func (c *Config) Validate() error {
	if c.QueueCap <= 0 {
		return errInvalidConfig("QueueCap must be > 0")
	}
	if c.CoreThreads < 0 {
		return errInvalidConfig("CoreThreads must be >= 0")
	}
	if c.MaxThreads < 0 {
		return errInvalidConfig("MaxThreads must be >= 0")
	}
	if c.KeepAlive < 0 {
		return errInvalidConfig("KeepAlive must be >= 0")
	}
	if c.LoadCheckInterval < 0 {
		return errInvalidConfig("LoadCheckInterval must be >= 0")
	}
	if c.ScaleUpThreshold < 0 || c.ScaleUpThreshold > 1 {
		return errInvalidConfig("ScaleUpThreshold must be within [0, 1]")
	}
	if c.ScaleDownThreshold < 0 || c.ScaleDownThreshold > 1 {
		return errInvalidConfig("ScaleDownThreshold must be within [0, 1]")
	}
	if c.PendingHi < 0 || c.PendingLow < 0 {
		return errInvalidConfig("pending thresholds must be >= 0")
	}
	if c.DebounceHits < 0 {
		return errInvalidConfig("DebounceHits must be >= 0")
	}
	if c.Cooldown < 0 {
		return errInvalidConfig("Cooldown must be >= 0")
	}
	if c.QueuePolicy != Block && c.QueuePolicy != Discard && c.QueuePolicy != Overwrite {
		return errInvalidConfig("unknown QueuePolicy")
	}
	return nil
}

// normalize fills defaults and repairs cross-field inconsistencies. The
// effective queue capacity (after power-of-two rounding) drives the
// inferred pending thresholds.
func (c *Config) normalize() {
	c.QueueCap = nextPowerOfTwo(c.QueueCap)
	if c.QueueCap < 2 {
		c.QueueCap = 2
	}
	if c.CoreThreads < 1 {
		c.CoreThreads = 1
	}
	if c.MaxThreads < c.CoreThreads {
		c.MaxThreads = c.CoreThreads
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.LoadCheckInterval == 0 {
		c.LoadCheckInterval = 20 * time.Millisecond
	}
	if c.ScaleUpThreshold == 0 {
		c.ScaleUpThreshold = 0.8
	}
	if c.ScaleDownThreshold == 0 {
		c.ScaleDownThreshold = 0.2
	}
	if c.PendingHi == 0 {
		c.PendingHi = maxInt(1, c.QueueCap/2)
	}
	if c.PendingLow == 0 {
		c.PendingLow = maxInt(1, c.QueueCap/8)
	}
	if c.PendingLow > c.PendingHi {
		c.PendingLow = c.PendingHi
	}
	if c.DebounceHits < 1 {
		c.DebounceHits = 3
	}
	if c.Cooldown == 0 {
		c.Cooldown = 500 * time.Millisecond
	}
}

// rawConfig is the serialised form. Durations are millisecond integers and
// the policy is a name, so config files stay toolchain-agnostic.
type rawConfig struct {
	QueueCap            *int     `json:"queue_cap"`
	CoreThreads         *int     `json:"core_threads"`
	MaxThreads          *int     `json:"max_threads"`
	KeepAliveMs         *int64   `json:"keep_alive_ms"`
	LoadCheckIntervalMs *int64   `json:"load_check_interval_ms"`
	ScaleUpThreshold    *float64 `json:"scale_up_threshold"`
	ScaleDownThreshold  *float64 `json:"scale_down_threshold"`
	PendingHi           *int     `json:"pending_hi"`
	PendingLow          *int     `json:"pending_low"`
	DebounceHits        *int     `json:"debounce_hits"`
	CooldownMs          *int64   `json:"cooldown_ms"`
	QueuePolicy         *string  `json:"queue_policy"`
}

// ParseConfig decodes a JSON configuration document into a validated,
// normalised Config.
func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Config{}, &PoolError{msg: "invalid config: malformed JSON", err: err}
	}

	if raw.QueueCap == nil {
		return Config{}, errInvalidConfig("queue_cap is required")
	}

	cfg := DefaultConfig(*raw.QueueCap)
	if raw.CoreThreads != nil {
		cfg.CoreThreads = *raw.CoreThreads
	}
	if raw.MaxThreads != nil {
		cfg.MaxThreads = *raw.MaxThreads
	}
	if raw.KeepAliveMs != nil {
		cfg.KeepAlive = time.Duration(*raw.KeepAliveMs) * time.Millisecond
	}
	if raw.LoadCheckIntervalMs != nil {
		cfg.LoadCheckInterval = time.Duration(*raw.LoadCheckIntervalMs) * time.Millisecond
	}
	if raw.ScaleUpThreshold != nil {
		cfg.ScaleUpThreshold = *raw.ScaleUpThreshold
	}
	if raw.ScaleDownThreshold != nil {
		cfg.ScaleDownThreshold = *raw.ScaleDownThreshold
	}
	if raw.PendingHi != nil {
		cfg.PendingHi = *raw.PendingHi
	}
	if raw.PendingLow != nil {
		cfg.PendingLow = *raw.PendingLow
	}
	if raw.DebounceHits != nil {
		cfg.DebounceHits = *raw.DebounceHits
	}
	if raw.CooldownMs != nil {
		cfg.Cooldown = time.Duration(*raw.CooldownMs) * time.Millisecond
	}
	if raw.QueuePolicy != nil {
		p, err := ParseQueueFullPolicy(*raw.QueuePolicy)
		if err != nil {
			return Config{}, err
		}
		cfg.QueuePolicy = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// LoadConfigFile reads and parses a JSON configuration file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &PoolError{msg: "invalid config: read " + path, err: err}
	}
	return ParseConfig(data)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
