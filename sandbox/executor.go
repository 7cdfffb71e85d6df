package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tatehito/sandrun/bus"
	"github.com/tatehito/sandrun/runtime"
)

// busExecutorID is the executor's own address on the message bus.
const busExecutorID = "executor"

// Executor runs batches of sandboxed programs in parallel. Runs are
// isolated from each other: one sandbox failing does not disturb the
// others unless fail-fast is enabled.
type Executor struct {
	logger   *zap.Logger
	provider runtime.Provider
	monitor  *Monitor
	bus      *bus.Bus

	stdout *OutputBuffers
	stderr *OutputBuffers

	interval    time.Duration
	failFast    bool
	maxParallel int

	mu      sync.Mutex
	handles map[string]*Handle
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	bufferLimit    int
	aggregateLimit int
	pollInterval   time.Duration
	failFast       bool
	maxParallel    int
	busCapacity    int
	busHistory     int
}

// WithBufferLimits sets the per-sandbox and aggregate output caps in bytes.
func WithBufferLimits(limit, aggregate int) ExecutorOption {
	return func(o *executorOptions) {
		o.bufferLimit = limit
		o.aggregateLimit = aggregate
	}
}

// WithPollInterval sets how often sandboxes are sampled.
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(o *executorOptions) { o.pollInterval = d }
}

// WithFailFast makes the first non-exited result cancel the remaining runs.
func WithFailFast(enabled bool) ExecutorOption {
	return func(o *executorOptions) { o.failFast = enabled }
}

// WithMaxParallel bounds how many sandboxes run at once. Zero means
// unlimited.
func WithMaxParallel(n int) ExecutorOption {
	return func(o *executorOptions) { o.maxParallel = n }
}

// WithBusCapacity sets the per-recipient channel capacity of the message bus.
func WithBusCapacity(n int) ExecutorOption {
	return func(o *executorOptions) { o.busCapacity = n }
}

// WithBusHistory sets how many delivered bus messages are retained.
func WithBusHistory(n int) ExecutorOption {
	return func(o *executorOptions) { o.busHistory = n }
}

// NewExecutor creates an Executor on the given runtime provider.
func NewExecutor(logger *zap.Logger, provider runtime.Provider, opts ...ExecutorOption) *Executor {
	o := executorOptions{
		pollInterval: DefaultPollInterval,
		busCapacity:  bus.DefaultCapacity,
		busHistory:   bus.DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor{
		logger:      logger,
		provider:    provider,
		monitor:     NewMonitor(logger, provider, o.pollInterval),
		bus:         bus.New(o.busCapacity, bus.WithHistorySize(o.busHistory)),
		stdout:      NewOutputBuffers(o.bufferLimit, o.aggregateLimit),
		stderr:      NewOutputBuffers(o.bufferLimit, o.aggregateLimit),
		interval:    o.pollInterval,
		failFast:    o.failFast,
		maxParallel: o.maxParallel,
		handles:     make(map[string]*Handle),
	}
}

// Bus exposes the executor's message bus so callers can register and
// observe sandbox lifecycle broadcasts.
func (e *Executor) Bus() *bus.Bus { return e.bus }

// Execute runs every config in parallel and returns one Result per config,
// in input order. With fail-fast enabled the first non-exited result
// cancels the runs still in flight, which finish as StatusCanceled.
func (e *Executor) Execute(ctx context.Context, configs []Config) []Result {
	return e.execute(ctx, configs, e.failFast)
}

// ExecuteFailFast is Execute with fail-fast forced on for this batch.
func (e *Executor) ExecuteFailFast(ctx context.Context, configs []Config) []Result {
	return e.execute(ctx, configs, true)
}

func (e *Executor) execute(ctx context.Context, configs []Config, failFast bool) []Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sem chan struct{}
	if e.maxParallel > 0 {
		sem = make(chan struct{}, e.maxParallel)
	}

	results := make([]Result, len(configs))
	var wg sync.WaitGroup
	for i, cfg := range configs {
		wg.Add(1)
		go func(i int, cfg Config) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			res := e.runOne(runCtx, cfg)
			results[i] = res
			if failFast && res.Status != StatusExited {
				cancel()
			}
		}(i, cfg)
	}
	wg.Wait()
	return results
}

// runOne takes a single config through the full lifecycle and returns its
// result. Every exit path leaves the handle in a terminal state.
func (e *Executor) runOne(ctx context.Context, cfg Config) Result {
	handle := NewHandle()
	e.mu.Lock()
	e.handles[handle.ID()] = handle
	e.mu.Unlock()

	start := time.Now()
	fail := func(reason string, status Status, err error) Result {
		if ferr := handle.Fail(reason); ferr != nil {
			e.logger.Error("failed to mark sandbox failed", zap.String("sandbox_id", handle.ID()), zap.Error(ferr))
		}
		e.broadcast(handle, reason)
		return Result{
			SandboxID: handle.ID(),
			Status:    status,
			Duration:  time.Since(start),
			Err:       err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return fail(err.Error(), StatusSpawnFailed, err)
	}
	cfg = cfg.normalized()
	limits := LimitsFor(cfg)

	spec := runtime.CreateSpec{
		Image:       cfg.Image,
		Command:     cfg.Command,
		WorkDir:     cfg.WorkDir,
		Env:         cfg.Env,
		Stdin:       cfg.Stdin,
		MemoryBytes: limits.MemoryBytes,
		StackBytes:  limits.StackBytes,
	}
	if cfg.Mount != nil {
		spec.Mount = &runtime.Mount{
			Source:   cfg.Mount.Source,
			Target:   cfg.Mount.Target,
			ReadOnly: cfg.Mount.ReadOnly,
		}
	}

	rid, err := e.provider.Create(ctx, spec)
	if err != nil {
		// A straggler canceled before it could spawn is a canceled
		// run, not a spawn failure.
		if ctx.Err() != nil {
			return fail(StatusCanceled.String(), StatusCanceled, ctx.Err())
		}
		serr := &SpawnError{Reason: "create failed", Err: err}
		return fail(serr.Error(), StatusSpawnFailed, serr)
	}
	handle.setRuntimeID(rid)

	if err := handle.TransitionTo(StateStarting); err != nil {
		return fail(err.Error(), StatusSpawnFailed, err)
	}
	if err := e.provider.Start(ctx, rid); err != nil {
		if rerr := e.provider.Remove(context.Background(), rid); rerr != nil {
			e.logger.Warn("failed to remove sandbox after start failure", zap.String("sandbox_id", handle.ID()), zap.Error(rerr))
		}
		if ctx.Err() != nil {
			return fail(StatusCanceled.String(), StatusCanceled, ctx.Err())
		}
		serr := &SpawnError{Reason: "start failed", Err: err}
		return fail(serr.Error(), StatusSpawnFailed, serr)
	}
	if err := handle.TransitionTo(StateRunning); err != nil {
		return fail(err.Error(), StatusSpawnFailed, err)
	}
	e.broadcast(handle, "started")
	e.logger.Info("sandbox running",
		zap.String("sandbox_id", handle.ID()),
		zap.String("runtime_id", rid),
		zap.String("image", cfg.Image))

	memMon := NewMemoryMonitor(e.provider, rid, limits.MemoryBytes, e.interval)
	monCtx, monCancel := context.WithCancel(context.Background())
	var monWG sync.WaitGroup
	monWG.Add(2)
	go func() {
		defer monWG.Done()
		memMon.Run(monCtx)
	}()
	collector := newOutputCollector(e, handle)
	go func() {
		defer monWG.Done()
		collector.run(monCtx, e.interval)
	}()

	verdict, waitErr := e.monitor.Wait(ctx, handle, cfg.Timeout, memMon)
	monCancel()
	monWG.Wait()
	collector.collect(context.Background())

	result := Result{
		SandboxID:       handle.ID(),
		Status:          verdict.Status,
		ExitCode:        verdict.ExitCode,
		Stdout:          e.stdout.Get(handle.ID()),
		Stderr:          e.stderr.Get(handle.ID()),
		Duration:        time.Since(start),
		PeakMemoryBytes: memMon.Peak(),
		Err:             errors.Join(waitErr, collector.err()),
	}

	switch {
	case waitErr != nil && verdict.Status == StatusExited:
		// Monitoring itself broke; the run's fate is unknown.
		result.Status = StatusSpawnFailed
		if ferr := handle.Fail(waitErr.Error()); ferr != nil {
			e.logger.Error("failed to mark sandbox failed", zap.String("sandbox_id", handle.ID()), zap.Error(ferr))
		}
		e.broadcast(handle, waitErr.Error())
	case verdict.Status == StatusExited:
		e.terminate(handle)
		e.broadcast(handle, fmt.Sprintf("exited with code %d", verdict.ExitCode))
	default:
		if ferr := handle.Fail(verdict.Status.String()); ferr != nil {
			e.logger.Error("failed to mark sandbox failed", zap.String("sandbox_id", handle.ID()), zap.Error(ferr))
		}
		e.broadcast(handle, verdict.Status.String())
	}

	e.logger.Info("sandbox finished",
		zap.String("sandbox_id", handle.ID()),
		zap.String("status", result.Status.String()),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result
}

// terminate walks the handle through the orderly shutdown states.
func (e *Executor) terminate(handle *Handle) {
	if err := handle.TransitionTo(StateStopping); err != nil {
		e.logger.Error("invalid transition", zap.String("sandbox_id", handle.ID()), zap.Error(err))
		return
	}
	if err := handle.TransitionTo(StateStopped); err != nil {
		e.logger.Error("invalid transition", zap.String("sandbox_id", handle.ID()), zap.Error(err))
	}
}

// broadcast announces a lifecycle event on the bus. Delivery failures are
// logged, never fatal.
func (e *Executor) broadcast(handle *Handle, event string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	content := fmt.Sprintf("sandbox %s: %s", handle.ID(), event)
	for _, derr := range e.bus.Broadcast(ctx, busExecutorID, bus.KindSystem, content) {
		e.logger.Warn("bus delivery failed",
			zap.String("recipient", derr.Recipient),
			zap.Error(derr.Err))
	}
}

// ReadOutput returns a snapshot of the sandbox's captured stdout.
func (e *Executor) ReadOutput(id string) []byte { return e.stdout.Get(id) }

// ReadStderr returns a snapshot of the sandbox's captured stderr.
func (e *Executor) ReadStderr(id string) []byte { return e.stderr.Get(id) }

// Status returns the lifecycle state of a sandbox by id.
func (e *Executor) Status(id string) (State, error) {
	e.mu.Lock()
	handle, ok := e.handles[id]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown sandbox: %s", id)
	}
	return handle.State(), nil
}

// Cancel kills a running sandbox. The monitor observes the termination and
// produces the run's result; canceling an already-dead sandbox is a no-op.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	handle, ok := e.handles[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown sandbox: %s", id)
	}
	rid := handle.RuntimeID()
	if rid == "" {
		return nil
	}
	return e.provider.Stop(ctx, rid)
}

// Cleanup stops and removes every sandbox the executor has created and
// releases their output buffers. It always attempts every sandbox; the
// collected failures come back as a single *CleanupError.
func (e *Executor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.handles = make(map[string]*Handle)
	e.mu.Unlock()

	var errs []error
	for _, h := range handles {
		rid := h.RuntimeID()
		if rid != "" {
			if err := e.provider.Stop(ctx, rid); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", h.ID(), err))
			}
			if err := e.provider.Remove(ctx, rid); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", h.ID(), err))
			}
		}
		e.stdout.Clear(h.ID())
		e.stderr.Clear(h.ID())
	}
	if len(errs) > 0 {
		return &CleanupError{Errs: errs}
	}
	return nil
}

// outputCollector drains a sandbox's output streams into the executor's
// buffers, tracking how much of each stream has already been consumed.
type outputCollector struct {
	e      *Executor
	handle *Handle

	mu        sync.Mutex
	stdoutOff int
	stderrOff int
	appendErr error
}

func newOutputCollector(e *Executor, handle *Handle) *outputCollector {
	return &outputCollector{e: e, handle: handle}
}

// run polls the provider until the context is canceled. The caller does a
// final collect afterwards to pick up output emitted between the last poll
// and termination.
func (c *outputCollector) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect appends newly produced output to the buffers. A full buffer stops
// collection for that stream; the first such error is kept for the result.
func (c *outputCollector) collect(ctx context.Context) {
	stdout, stderr, err := c.e.provider.Output(ctx, c.handle.RuntimeID())
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(stdout) > c.stdoutOff {
		if err := c.e.stdout.Append(c.handle.ID(), stdout[c.stdoutOff:]); err != nil {
			c.noteAppendErr(err)
		} else {
			c.stdoutOff = len(stdout)
		}
	}
	if len(stderr) > c.stderrOff {
		if err := c.e.stderr.Append(c.handle.ID(), stderr[c.stderrOff:]); err != nil {
			c.noteAppendErr(err)
		} else {
			c.stderrOff = len(stderr)
		}
	}
}

func (c *outputCollector) noteAppendErr(err error) {
	if c.appendErr == nil {
		c.appendErr = err
		c.e.logger.Warn("output buffer full",
			zap.String("sandbox_id", c.handle.ID()),
			zap.Error(err))
	}
}

func (c *outputCollector) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendErr
}
