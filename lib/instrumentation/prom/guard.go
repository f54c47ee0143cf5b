package prom

import (
	"gfx.cafe/open/gotoprom"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	gotoprom.MustInit(&Guard, "pgguard_guard", prometheus.Labels{})
}

type GuardLabels struct {
	Pool string `label:"pool"`
	// Outcome is "reuse" or a discard reason
	Outcome string `label:"outcome"`
}

var Guard struct {
	Decisions func(GuardLabels) prometheus.Counter `name:"decisions" help:"release decisions made by the session guard"`
}
