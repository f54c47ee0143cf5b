package pool

import (
	"maps"
	"time"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

// Stats mirrors database/sql.DBStats and adds the guard's decisions.
type Stats struct {
	MaxOpen int

	Open  int
	InUse int
	Idle  int

	WaitCount    int64
	WaitDuration time.Duration

	MaxIdleClosed     int64
	MaxIdleTimeClosed int64
	MaxLifetimeClosed int64

	// Reused counts sessions the guard passed that went back to the idle set or to a waiter.
	Reused int64
	// Discarded counts sessions the guard discarded, by reason.
	Discarded map[guard.Reason]int64
}

// TotalDiscarded sums Discarded.
func (T Stats) TotalDiscarded() int64 {
	var n int64
	for _, count := range T.Discarded {
		n += count
	}
	return n
}

func (T Stats) clone() Stats {
	T.Discarded = maps.Clone(T.Discarded)
	return T
}
