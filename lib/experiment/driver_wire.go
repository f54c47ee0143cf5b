package experiment

import (
	"context"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/pgwire"
	"github.com/ardentperf/pg-idle-test/lib/pool"
)

// wireDriver is lib/pool over raw pgwire sessions.
type wireDriver struct {
	pool *pool.Pool
}

// unguarded reuses every session that is still open, the way a pool without a release check
// behaves.
var unguarded = guard.EvaluatorFunc(func(s guard.Session) guard.Decision {
	status, err := guard.Probe(s)
	if err != nil {
		return guard.Discard(status, guard.ReasonProbeFailed)
	}
	return guard.Reuse(status)
})

func openWire(config Config, ev guard.Evaluator) (*wireDriver, error) {
	dialer, err := pgwire.DialerFromURL(config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if ev == nil {
		ev = unguarded
	}

	return &wireDriver{
		pool: pool.NewPool(pool.Config{
			Name:     DriverWire,
			Dialer:   pool.WireDialer(dialer),
			Guard:    ev,
			MaxConns: config.MaxConns,
			MaxIdle:  config.MaxIdle,
			Logger:   config.Logger,
		}),
	}, nil
}

func (T *wireDriver) Exec(ctx context.Context, sql string) error {
	conn, err := T.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer T.pool.Release(conn)

	return wireConn(conn).Exec(ctx, sql)
}

func (T *wireDriver) Checkout(ctx context.Context) (Held, error) {
	conn, err := T.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return wireHeld{pool: T.pool, conn: conn}, nil
}

func (T *wireDriver) Sample(ctx context.Context) (byte, error) {
	conn, err := T.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer T.pool.Release(conn)

	return conn.Session.TxStatus(), nil
}

func (T *wireDriver) Stats() PoolStats {
	stats := T.pool.Stats()
	return PoolStats{
		Open:  stats.Open,
		InUse: stats.InUse,
		Idle:  stats.Idle,

		WaitCount:    stats.WaitCount,
		WaitDuration: stats.WaitDuration,

		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (T *wireDriver) Close() {
	T.pool.Close()
}

func wireConn(conn *pool.Conn) *pgwire.Conn {
	return conn.Session.(*pgwire.Conn)
}

type wireHeld struct {
	pool *pool.Pool
	conn *pool.Conn
}

func (T wireHeld) Exec(ctx context.Context, sql string) error {
	return wireConn(T.conn).Exec(ctx, sql)
}

func (T wireHeld) QueryValue(ctx context.Context, sql string) (string, error) {
	return wireConn(T.conn).QueryValue(ctx, sql)
}

func (T wireHeld) Release() {
	T.pool.Release(T.conn)
}

var _ Driver = (*wireDriver)(nil)
