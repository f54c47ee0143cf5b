package metrics

import (
	"time"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

type Conn struct {
	Time time.Time

	State ConnState
	Since time.Time

	Created  time.Time
	LastUsed time.Time

	// TxStatus is the status probed at the last release
	TxStatus guard.Status
}
