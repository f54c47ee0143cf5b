package experiment

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/guard/pgxguard"
)

// pgxDriver is pgxpool with the guard installed as its AfterRelease hook.
type pgxDriver struct {
	pool *pgxpool.Pool
}

func openPgx(ctx context.Context, config Config, ev guard.Evaluator) (*pgxDriver, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(config.MaxConns)
	if ev != nil {
		pgxguard.Install(poolConfig, ev)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	return &pgxDriver{
		pool: pool,
	}, nil
}

func (T *pgxDriver) Exec(ctx context.Context, sql string) error {
	_, err := T.pool.Exec(ctx, sql)
	return err
}

func (T *pgxDriver) Checkout(ctx context.Context) (Held, error) {
	conn, err := T.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pgxHeld{conn: conn}, nil
}

func (T *pgxDriver) Sample(ctx context.Context) (byte, error) {
	conn, err := T.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	return conn.Conn().PgConn().TxStatus(), nil
}

func (T *pgxDriver) Stats() PoolStats {
	stat := T.pool.Stat()
	return PoolStats{
		Open:  int(stat.TotalConns()),
		InUse: int(stat.AcquiredConns()),
		Idle:  int(stat.IdleConns()),

		WaitCount:    stat.EmptyAcquireCount(),
		WaitDuration: stat.EmptyAcquireWaitTime(),

		MaxIdleTimeClosed: stat.MaxIdleDestroyCount(),
		MaxLifetimeClosed: stat.MaxLifetimeDestroyCount(),
	}
}

func (T *pgxDriver) Close() {
	T.pool.Close()
}

type pgxHeld struct {
	conn *pgxpool.Conn
}

func (T pgxHeld) Exec(ctx context.Context, sql string) error {
	_, err := T.conn.Exec(ctx, sql)
	return err
}

func (T pgxHeld) QueryValue(ctx context.Context, sql string) (string, error) {
	var value string
	err := T.conn.QueryRow(ctx, sql).Scan(&value)
	return value, err
}

func (T pgxHeld) Release() {
	T.conn.Release()
}

var _ Driver = (*pgxDriver)(nil)
