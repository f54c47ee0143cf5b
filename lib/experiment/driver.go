package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

// Driver is the connection pool under test.
type Driver interface {
	// Exec runs sql on any pooled session.
	Exec(ctx context.Context, sql string) error
	// Checkout takes a session out of the pool until Held.Release.
	Checkout(ctx context.Context) (Held, error)
	// Sample checks out a session and returns the transaction status it was handed out with.
	Sample(ctx context.Context) (byte, error)
	Stats() PoolStats
	Close()
}

type Held interface {
	Exec(ctx context.Context, sql string) error
	// QueryValue returns the first column of the first row as text.
	QueryValue(ctx context.Context, sql string) (string, error)
	Release()
}

// PoolStats are the counters every driver can report, named after database/sql.DBStats.
type PoolStats struct {
	Open  int
	InUse int
	Idle  int

	WaitCount    int64
	WaitDuration time.Duration

	MaxIdleClosed     int64
	MaxIdleTimeClosed int64
	MaxLifetimeClosed int64

	// Discarded counts sessions the guard refused to reuse.
	Discarded int64
}

// Sub returns the counter deltas since prev. Gauges are taken from T.
func (T PoolStats) Sub(prev PoolStats) PoolStats {
	T.WaitCount -= prev.WaitCount
	T.WaitDuration -= prev.WaitDuration
	T.MaxIdleClosed -= prev.MaxIdleClosed
	T.MaxIdleTimeClosed -= prev.MaxIdleTimeClosed
	T.MaxLifetimeClosed -= prev.MaxLifetimeClosed
	T.Discarded -= prev.Discarded
	return T
}

// Open builds the driver named by config.Driver. A nil ev leaves the pool's own release policy in
// place.
func Open(ctx context.Context, config Config, ev guard.Evaluator) (Driver, error) {
	switch config.Driver {
	case DriverSQL:
		return openSQL(config, ev)
	case DriverPgx:
		return openPgx(ctx, config, ev)
	case DriverWire:
		return openWire(config, ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, config.Driver)
	}
}
