package prom

import (
	"gfx.cafe/open/gotoprom"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gotoprom.MustInit(&Pool, "pgguard_pool", prometheus.Labels{})
}

type PoolLabels struct {
	Pool string `label:"pool"`
}

func (s *PoolLabels) ToClose(cause string) PoolCloseLabels {
	return PoolCloseLabels{
		Pool:  s.Pool,
		Cause: cause,
	}
}

type PoolCloseLabels struct {
	Pool  string `label:"pool"`
	Cause string `label:"cause"`
}

var Pool struct {
	Acquire func(PoolLabels) prometheus.Histogram    `name:"acquire_ms" buckets:"0.005,0.01,0.1,0.25,0.5,0.75,1,5,10,100,500,1000,5000" help:"ms to acquire from pool"`
	Dialed  func(PoolLabels) prometheus.Counter      `name:"dialed" help:"sessions opened by the pool"`
	Closed  func(PoolCloseLabels) prometheus.Counter `name:"closed" help:"sessions closed by the pool"`
	Waiting func(PoolLabels) prometheus.Gauge        `name:"waiting" help:"callers waiting for a session"`
}
