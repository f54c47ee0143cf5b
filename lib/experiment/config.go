package experiment

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Mode string

const (
	// ModePoison returns the lock holding session to the pool with its transaction still open.
	ModePoison Mode = "poison"
	// ModeSleep keeps the lock holding session checked out for the whole hold period.
	ModeSleep Mode = "sleep"
	// ModeCancel times out an update blocked behind the row lock, so the pool's driver has to cancel
	// it on the server.
	ModeCancel Mode = "cancel"
)

const (
	DriverSQL  = "sql"
	DriverPgx  = "pgx"
	DriverWire = "wire"
)

type Config struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	// Driver selects the pool under test: sql, pgx or wire.
	Driver string `mapstructure:"driver" yaml:"driver"`
	Mode   Mode   `mapstructure:"mode" yaml:"mode"`
	// Guard installs the session guard on the pool's release path.
	Guard bool `mapstructure:"guard" yaml:"guard"`

	Workers        int           `mapstructure:"workers" yaml:"workers"`
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout" yaml:"worker_timeout"`
	WorkerInterval time.Duration `mapstructure:"worker_interval" yaml:"worker_interval"`

	WarmUp time.Duration `mapstructure:"warm_up" yaml:"warm_up"`
	Hold   time.Duration `mapstructure:"hold" yaml:"hold"`

	MaxConns int `mapstructure:"max_conns" yaml:"max_conns"`
	MaxIdle  int `mapstructure:"max_idle" yaml:"max_idle"`

	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`

	CancelTimeout time.Duration `mapstructure:"cancel_timeout" yaml:"cancel_timeout"`

	Logger         *zap.Logger          `mapstructure:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `mapstructure:"-" yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Driver: DriverSQL,
		Mode:   ModePoison,

		Workers:        20,
		WorkerTimeout:  500 * time.Millisecond,
		WorkerInterval: 100 * time.Millisecond,

		WarmUp: 20 * time.Second,
		Hold:   70 * time.Second,

		MaxConns: 10,
		MaxIdle:  10,

		MonitorInterval: time.Second,

		CancelTimeout: 5 * time.Second,
	}
}

func (T *Config) Validate() error {
	switch T.Driver {
	case DriverSQL, DriverPgx, DriverWire:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, T.Driver)
	}

	switch T.Mode {
	case ModePoison, ModeSleep, ModeCancel:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, T.Mode)
	}

	if T.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if T.MaxConns <= 0 {
		return fmt.Errorf("%w: max_conns must be positive", ErrInvalidConfig)
	}
	if T.MaxIdle < 0 {
		return fmt.Errorf("%w: max_idle must not be negative", ErrInvalidConfig)
	}
	if T.WorkerTimeout <= 0 || T.MonitorInterval <= 0 || T.CancelTimeout <= 0 {
		return fmt.Errorf("%w: worker_timeout, monitor_interval and cancel_timeout must be positive", ErrInvalidConfig)
	}
	if T.WorkerInterval < 0 || T.WarmUp < 0 || T.Hold < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
