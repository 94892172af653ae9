package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_dispatcher_requests_total",
		Help: "Reasoning requests processed, by kind and outcome",
	}, []string{"kind", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "explorer_dispatcher_request_duration_seconds",
		Help:    "Time from dequeue to completion of a reasoning request",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"kind"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_dispatcher_tokens_total",
		Help: "Tokens reported by the reasoning service",
	}, []string{"kind", "type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "explorer_dispatcher_queue_depth",
		Help: "Requests waiting in each queue",
	}, []string{"queue"})

	reanalysisDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "explorer_dispatcher_reanalysis_dropped_total",
		Help: "Reanalysis requests dropped because the cluster is not ranked",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_dispatcher_retries_total",
		Help: "Retries caused by transport failures or malformed replies",
	}, []string{"reason"})
)
