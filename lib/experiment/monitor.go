package experiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ardentperf/pg-idle-test/lib/guard"
)

// Monitor logs pool counters every interval, as rates since the previous tick, and samples one
// session to catch pools handing out sessions with an open transaction.
type Monitor struct {
	driver    Driver
	discarded func() int64
	interval  time.Duration
	log       *zap.Logger

	prev PoolStats
}

func NewMonitor(driver Driver, interval time.Duration, discarded func() int64, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		driver:    driver,
		discarded: discarded,
		interval:  interval,
		log:       log,
	}
}

func (T *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(T.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			T.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (T *Monitor) tick(ctx context.Context) {
	stats := T.driver.Stats()
	if T.discarded != nil {
		stats.Discarded = T.discarded()
	}
	delta := stats.Sub(T.prev)
	T.prev = stats

	seconds := T.interval.Seconds()
	var avgWait float64
	if delta.WaitCount > 0 {
		avgWait = float64(delta.WaitDuration.Milliseconds()) / float64(delta.WaitCount)
	}

	T.log.Info(
		"POOL_STATS",
		zap.Int("open", stats.Open),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
		zap.Float64("waits_per_s", float64(delta.WaitCount)/seconds),
		zap.Float64("avg_wait_ms", avgWait),
		zap.Float64("max_idle_closed_per_s", float64(delta.MaxIdleClosed)/seconds),
		zap.Float64("max_lifetime_closed_per_s", float64(delta.MaxLifetimeClosed)/seconds),
		zap.Float64("max_idle_time_closed_per_s", float64(delta.MaxIdleTimeClosed)/seconds),
		zap.Float64("discarded_per_s", float64(delta.Discarded)/seconds),
	)

	sampleCtx, cancel := context.WithTimeout(ctx, T.interval)
	defer cancel()

	status, err := T.driver.Sample(sampleCtx)
	if err != nil {
		T.log.Debug("could not sample a session", zap.Error(err))
		return
	}
	if status != guard.TxStatusIdle {
		T.log.Warn(
			"pool handed out a session with an open transaction",
			zap.String("tx_status", string(rune(status))),
		)
	}
}
