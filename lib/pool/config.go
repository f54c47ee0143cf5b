package pool

import (
	"time"

	"go.uber.org/zap"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

type Config struct {
	// Name labels metrics and logs.
	Name string

	Dialer Dialer

	// Guard decides whether a released session may be reused. Defaults to guard.New.
	Guard guard.Evaluator

	// MaxConns caps open sessions, including ones being dialed. 0 = unlimited
	MaxConns int
	// MaxIdle caps the idle set. Sessions released while it is full are closed. 0 = unlimited
	MaxIdle int

	// IdleTimeout closes sessions that have been idle this long. 0 = disable
	IdleTimeout time.Duration
	// MaxLifetime closes idle sessions older than this. 0 = disable
	MaxLifetime time.Duration

	Logger *zap.Logger
}
