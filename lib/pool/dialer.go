package pool

import (
	"context"
	"io"

	"github.com/ardentperf/pg-idle-test/lib/guard"
	"github.com/ardentperf/pg-idle-test/lib/pgwire"
)

// Session is a physical connection owned by the pool.
type Session interface {
	guard.Session
	io.Closer
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type DialerFunc func(ctx context.Context) (Session, error)

func (T DialerFunc) Dial(ctx context.Context) (Session, error) {
	return T(ctx)
}

// WireDialer opens pgwire sessions.
func WireDialer(d *pgwire.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Session, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

var _ Session = (*pgwire.Conn)(nil)
