package experiment

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

const tracerName = "github.com/ardentperf/pg-idle-test/lib/experiment"

const (
	updateQuery  = "UPDATE test_row SET val = val + 1 WHERE id = 1"
	poisonQuery  = updateQuery + " -- POISON"
	sleepQuery   = "SELECT pg_sleep(0.01)"
	backendQuery = "SELECT pg_backend_pid()::text"
	waitersQuery = "SELECT count(*)::text FROM pg_stat_activity WHERE wait_event_type = 'Lock' AND query = '" + updateQuery + "'"
)

// cancelSettle gives the driver time to deliver its cancel request after the blocked update returns.
const cancelSettle = 100 * time.Millisecond

var setupQueries = []string{
	"DROP TABLE IF EXISTS test_row",
	"CREATE TABLE test_row (id INT PRIMARY KEY, val INT)",
	"INSERT INTO test_row (id, val) VALUES (1, 0)",
}

type Result struct {
	Mode    Mode   `yaml:"mode"`
	Driver  string `yaml:"driver"`
	Guarded bool   `yaml:"guarded"`

	// LockHolderPID is the backend that took the row lock in an open transaction.
	LockHolderPID string `yaml:"lock_holder_pid"`

	Successes int64 `yaml:"successes"`
	Failures  int64 `yaml:"failures"`
	Discarded int64 `yaml:"discarded"`

	// Canceled reports, in cancel mode, whether the blocked update gave up when its context expired.
	Canceled    bool   `yaml:"canceled,omitempty"`
	CancelError string `yaml:"cancel_error,omitempty"`
	// LockWaiters counts backends still queued on the row lock after the client gave up. It stays
	// above zero when the driver did not cancel the query on the server.
	LockWaiters int64 `yaml:"lock_waiters,omitempty"`

	Duration time.Duration `yaml:"duration"`
}

// Runner drives workers against a pool while one session holds the row they all update.
type Runner struct {
	config Config
	driver Driver
	log    *zap.Logger
	tracer trace.Tracer

	successes atomic.Int64
	failures  atomic.Int64
	discarded atomic.Int64
}

func NewRunner(config Config, driver Driver) *Runner {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	return &Runner{
		config: config,
		driver: driver,
		log:    config.Logger,
		tracer: config.TracerProvider.Tracer(tracerName),
	}
}

// Run opens the configured driver, guarded if config.Guard is set, and runs the experiment.
func Run(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := NewRunner(config, nil)

	var ev guard.Evaluator
	if config.Guard {
		ev = guard.New(guard.Config{
			Name:       config.Driver,
			Logger:     r.log,
			OnDecision: r.onDecision,
		})
	}

	driver, err := Open(ctx, config, ev)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	r.driver = driver
	return r.Run(ctx)
}

func (T *Runner) onDecision(decision guard.Decision) {
	if !decision.IsReuse() {
		T.discarded.Add(1)
	}
}

func (T *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if err := T.setup(ctx); err != nil {
		return nil, err
	}

	if T.config.Mode == ModeCancel {
		result, err := T.cancelBlocked(ctx)
		if err != nil {
			return nil, err
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	T.log.Info("starting workers", zap.Int("workers", T.config.Workers), zap.String("driver", T.config.Driver), zap.Bool("guard", T.config.Guard))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		NewMonitor(T.driver, T.config.MonitorInterval, T.discarded.Load, T.log).Run(gctx)
		return nil
	})
	for i := range T.config.Workers {
		g.Go(func() error {
			T.work(gctx, i)
			return nil
		})
	}

	pid, err := T.block(ctx)
	cancel()
	_ = g.Wait()
	if err != nil {
		return nil, err
	}

	T.log.Info("test complete", zap.Int64("successes", T.successes.Load()), zap.Int64("failures", T.failures.Load()))

	return &Result{
		Mode:    T.config.Mode,
		Driver:  T.config.Driver,
		Guarded: T.config.Guard,

		LockHolderPID: pid,

		Successes: T.successes.Load(),
		Failures:  T.failures.Load(),
		Discarded: T.discarded.Load(),

		Duration: time.Since(start),
	}, nil
}

func (T *Runner) setup(ctx context.Context) error {
	if err := T.driver.Exec(ctx, "SELECT 1"); err != nil {
		return err
	}
	for _, query := range setupQueries {
		if err := T.driver.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (T *Runner) work(ctx context.Context, worker int) {
	for {
		T.iterate(ctx, worker)

		if err := sleep(ctx, T.config.WorkerInterval); err != nil {
			return
		}
	}
}

func (T *Runner) iterate(ctx context.Context, worker int) {
	ctx, span := T.tracer.Start(ctx, "worker.iteration", trace.WithAttributes(
		attribute.Int("worker", worker),
	))
	defer span.End()

	qctx, cancel := context.WithTimeout(ctx, T.config.WorkerTimeout)
	defer cancel()

	if err := T.driver.Exec(qctx, updateQuery); err != nil {
		if ctx.Err() != nil {
			return
		}
		T.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		T.log.Warn("worker failed", zap.Int("worker", worker), zap.Error(err))
	} else {
		T.successes.Add(1)
	}

	_ = T.driver.Exec(qctx, sleepQuery)
}

// block takes the row lock in an open transaction after the warm up and holds it for the hold
// period, releasing the session first in poison mode and last in sleep mode.
func (T *Runner) block(ctx context.Context) (string, error) {
	if err := sleep(ctx, T.config.WarmUp); err != nil {
		return "", err
	}

	T.log.Info("holding row lock in open transaction", zap.String("mode", string(T.config.Mode)))

	held, err := T.driver.Checkout(ctx)
	if err != nil {
		return "", err
	}

	pid, err := T.lock(ctx, held)
	if err != nil {
		held.Release()
		return "", err
	}

	switch T.config.Mode {
	case ModePoison:
		held.Release()
		T.log.Info("lock acquired, session returned to pool with open transaction", zap.String("pid", pid))
		err = sleep(ctx, T.config.Hold)
	default:
		T.log.Info("lock acquired, sleeping with open transaction", zap.String("pid", pid))
		err = sleep(ctx, T.config.Hold)
		held.Release()
	}
	return pid, err
}

func (T *Runner) lock(ctx context.Context, held Held) (string, error) {
	pid, err := held.QueryValue(ctx, backendQuery)
	if err != nil {
		return "", err
	}
	if err = held.Exec(ctx, "BEGIN"); err != nil {
		return "", err
	}
	if err = held.Exec(ctx, poisonQuery); err != nil {
		return "", err
	}
	return pid, nil
}

// cancelBlocked holds the row lock on one session while an update from the pool waits behind it with
// CancelTimeout, then counts the backends still waiting on the lock.
func (T *Runner) cancelBlocked(ctx context.Context) (*Result, error) {
	held, err := T.driver.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	defer held.Release()

	pid, err := T.lock(ctx, held)
	if err != nil {
		return nil, err
	}

	T.log.Info("lock acquired, running blocked update", zap.String("pid", pid), zap.Duration("timeout", T.config.CancelTimeout))

	result := &Result{
		Mode:    T.config.Mode,
		Driver:  T.config.Driver,
		Guarded: T.config.Guard,

		LockHolderPID: pid,
	}

	qctx, cancel := context.WithTimeout(ctx, T.config.CancelTimeout)
	err = T.driver.Exec(qctx, updateQuery)
	cancel()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		result.Canceled = true
		result.CancelError = err.Error()
		T.log.Info("blocked update gave up", zap.Error(err))
	} else {
		T.log.Warn("update was not blocked by the row lock")
	}

	if err = sleep(ctx, cancelSettle); err != nil {
		return nil, err
	}

	waiters, err := held.QueryValue(ctx, waitersQuery)
	if err != nil {
		return nil, err
	}
	if result.LockWaiters, err = strconv.ParseInt(waiters, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse lock waiters %q: %w", waiters, err)
	}
	if result.LockWaiters > 0 {
		T.log.Warn("backends still waiting on the row lock", zap.Int64("waiters", result.LockWaiters))
	}

	if err = held.Exec(ctx, "ROLLBACK"); err != nil {
		return nil, err
	}
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
