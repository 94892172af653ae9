package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_agent_steps_total",
		Help: "Observed states processed, by mode",
	}, []string{"mode"})

	modeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_agent_mode_transitions_total",
		Help: "Mode transitions of the controller",
	}, []string{"from", "to"})

	guidesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explorer_agent_guides_total",
		Help: "Navigation targets requested",
	})

	guidesSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explorer_agent_guides_succeeded_total",
		Help: "Navigation rounds that reached their target",
	})

	coverageRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "explorer_agent_coverage_ratio",
		Help: "Last coverage ratio reported for the app under test",
	})
)
