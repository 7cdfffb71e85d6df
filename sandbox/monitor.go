package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tatehito/sandrun/runtime"
)

// DefaultPollInterval is how often the monitor samples the sandbox.
const DefaultPollInterval = 100 * time.Millisecond

// killGracePeriod bounds how long termination confirmation may take after
// a kill has been issued.
const killGracePeriod = 2 * time.Second

// Verdict is the monitor's classification of how a run ended.
type Verdict struct {
	Status   Status
	ExitCode int
}

// Monitor watches a running sandbox and decides its fate. Each poll checks,
// in order, whether the memory ceiling was breached, whether the process
// exited on its own, and whether the wall-clock limit expired.
type Monitor struct {
	logger   *zap.Logger
	provider runtime.Provider
	interval time.Duration
}

// NewMonitor creates a Monitor polling at the given interval. A
// non-positive interval selects DefaultPollInterval.
func NewMonitor(logger *zap.Logger, provider runtime.Provider, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{logger: logger, provider: provider, interval: interval}
}

// Wait blocks until the sandbox reaches a terminal outcome and returns the
// verdict. Kill is issued at most once per sandbox regardless of how many
// limits trip, and termination is confirmed before Wait returns. Context
// cancellation kills the sandbox and yields StatusCanceled.
func (m *Monitor) Wait(ctx context.Context, handle *Handle, timeout time.Duration, mem *MemoryMonitor) (Verdict, error) {
	id := handle.RuntimeID()
	deadline := time.Now().Add(timeout)

	var killOnce sync.Once
	kill := func() {
		killOnce.Do(func() {
			// The kill must go through even when ctx is already
			// canceled, so it runs on its own deadline.
			killCtx, cancel := context.WithTimeout(context.Background(), killGracePeriod)
			defer cancel()
			if err := m.provider.Stop(killCtx, id); err != nil {
				m.logger.Warn("failed to stop sandbox", zap.String("sandbox_id", handle.ID()), zap.Error(err))
			}
			m.confirmTerminated(killCtx, handle)
		})
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			kill()
			return Verdict{Status: StatusCanceled}, ctx.Err()
		case <-ticker.C:
			if mem != nil && mem.Exceeded() {
				kill()
				return Verdict{Status: StatusMemoryExceeded}, &MemoryExceededError{
					ID:    handle.ID(),
					Limit: mem.Limit(),
					Usage: mem.Peak(),
				}
			}

			running, err := m.provider.IsRunning(ctx, id)
			if err != nil {
				return Verdict{}, err
			}
			if !running {
				code, err := m.provider.ExitCode(ctx, id)
				if err != nil {
					return Verdict{}, err
				}
				return Verdict{Status: StatusExited, ExitCode: code}, nil
			}

			if time.Now().After(deadline) {
				kill()
				return Verdict{Status: StatusTimedOut}, &TimedOutError{ID: handle.ID(), Timeout: timeout}
			}
		}
	}
}

// confirmTerminated polls until the sandbox reports not running or the
// grace period runs out.
func (m *Monitor) confirmTerminated(ctx context.Context, handle *Handle) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Warn("sandbox did not confirm termination", zap.String("sandbox_id", handle.ID()))
			return
		case <-ticker.C:
			running, err := m.provider.IsRunning(ctx, handle.RuntimeID())
			if err != nil || !running {
				return
			}
		}
	}
}

// MemoryMonitor samples a sandbox's memory usage in the background and
// latches once the ceiling is breached. It is safe to read concurrently
// with Run.
type MemoryMonitor struct {
	provider runtime.Provider
	id       string
	limit    int64
	interval time.Duration

	exceeded atomic.Bool
	peak     atomic.Int64
}

// NewMemoryMonitor creates a monitor for the sandbox with the given runtime
// id and memory ceiling in bytes.
func NewMemoryMonitor(provider runtime.Provider, id string, limit int64, interval time.Duration) *MemoryMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &MemoryMonitor{provider: provider, id: id, limit: limit, interval: interval}
}

// Run samples usage until the context is canceled or the ceiling is
// breached. Sampling errors are skipped; a backend that cannot report
// usage simply never trips the latch.
func (m *MemoryMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := m.provider.MemoryUsage(ctx, m.id)
			if err != nil {
				continue
			}
			if usage > m.peak.Load() {
				m.peak.Store(usage)
			}
			if m.limit > 0 && usage > m.limit {
				m.exceeded.Store(true)
				return
			}
		}
	}
}

// Exceeded reports whether the ceiling has been breached.
func (m *MemoryMonitor) Exceeded() bool { return m.exceeded.Load() }

// Peak returns the highest usage observed so far.
func (m *MemoryMonitor) Peak() int64 { return m.peak.Load() }

// Limit returns the ceiling in bytes.
func (m *MemoryMonitor) Limit() int64 { return m.limit }
