// Package pgxguard plugs a guard.Evaluator into the release paths of pgx: pgxpool's AfterRelease
// hook and database/sql's ResetSession via the pgx stdlib driver.
package pgxguard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

type session struct {
	conn *pgx.Conn
}

// Session exposes the cached transaction status of conn. Neither accessor touches the network.
func Session(conn *pgx.Conn) guard.Session {
	return session{conn: conn}
}

func (T session) TxStatus() byte {
	return T.conn.PgConn().TxStatus()
}

func (T session) IsClosed() bool {
	return T.conn.IsClosed()
}

// AfterRelease returns a pgxpool AfterRelease hook. pgxpool destroys the connection whenever the
// hook returns false.
func AfterRelease(ev guard.Evaluator) func(*pgx.Conn) bool {
	return func(conn *pgx.Conn) bool {
		return ev.Evaluate(Session(conn)).IsReuse()
	}
}

// Install sets the AfterRelease hook on config. An existing hook still runs, but only for
// connections the guard keeps.
func Install(config *pgxpool.Config, ev guard.Evaluator) {
	next := config.AfterRelease
	hook := AfterRelease(ev)
	if next == nil {
		config.AfterRelease = hook
		return
	}
	config.AfterRelease = func(conn *pgx.Conn) bool {
		return hook(conn) && next(conn)
	}
}

// ResetSession returns a hook for stdlib.OptionResetSession. database/sql closes the connection
// when the hook returns driver.ErrBadConn.
func ResetSession(ev guard.Evaluator) func(context.Context, *pgx.Conn) error {
	return func(_ context.Context, conn *pgx.Conn) error {
		return resetError(ev.Evaluate(Session(conn)))
	}
}

func resetError(decision guard.Decision) error {
	if decision.IsReuse() {
		return nil
	}
	return fmt.Errorf("%w: %w", driver.ErrBadConn, decision.Err())
}

// OpenDB opens a database/sql handle whose connections pass through ev before reuse.
func OpenDB(config pgx.ConnConfig, ev guard.Evaluator, opts ...stdlib.OptionOpenDB) *sql.DB {
	opts = append(opts, stdlib.OptionResetSession(ResetSession(ev)))
	return stdlib.OpenDB(config, opts...)
}
