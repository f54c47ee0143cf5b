package experiment

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/guard/pgxguard"
)

// sqlDriver is database/sql over the pgx stdlib driver. The guard runs as the ResetSession hook,
// which database/sql calls before a pooled connection is reused.
type sqlDriver struct {
	db *sql.DB
}

func openSQL(config Config, ev guard.Evaluator) (*sqlDriver, error) {
	connConfig, err := pgx.ParseConfig(config.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if ev != nil {
		db = pgxguard.OpenDB(*connConfig, ev)
	} else {
		db = stdlib.OpenDB(*connConfig)
	}
	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MaxIdle)

	return &sqlDriver{
		db: db,
	}, nil
}

func (T *sqlDriver) Exec(ctx context.Context, query string) error {
	_, err := T.db.ExecContext(ctx, query)
	return err
}

func (T *sqlDriver) Checkout(ctx context.Context) (Held, error) {
	conn, err := T.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return sqlHeld{conn: conn}, nil
}

func (T *sqlDriver) Sample(ctx context.Context) (byte, error) {
	conn, err := T.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = conn.Close()
	}()

	var status byte
	err = conn.Raw(func(driverConn any) error {
		if c, ok := driverConn.(*stdlib.Conn); ok {
			status = c.Conn().PgConn().TxStatus()
		}
		return nil
	})
	return status, err
}

func (T *sqlDriver) Stats() PoolStats {
	stats := T.db.Stats()
	return PoolStats{
		Open:  stats.OpenConnections,
		InUse: stats.InUse,
		Idle:  stats.Idle,

		WaitCount:    stats.WaitCount,
		WaitDuration: stats.WaitDuration,

		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

func (T *sqlDriver) Close() {
	_ = T.db.Close()
}

type sqlHeld struct {
	conn *sql.Conn
}

func (T sqlHeld) Exec(ctx context.Context, query string) error {
	_, err := T.conn.ExecContext(ctx, query)
	return err
}

func (T sqlHeld) QueryValue(ctx context.Context, query string) (string, error) {
	var value string
	err := T.conn.QueryRowContext(ctx, query).Scan(&value)
	return value, err
}

func (T sqlHeld) Release() {
	_ = T.conn.Close()
}

var _ Driver = (*sqlDriver)(nil)
