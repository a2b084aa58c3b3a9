package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itchat",
			Name:      "stream_reconcile_total",
			Help:      "Message stream reconciliations by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	optimisticOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itchat",
			Name:      "optimistic_operations_total",
			Help:      "Optimistic operations by kind and final state",
		},
		[]string{"kind", "state"},
	)

	pushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "itchat",
			Name:      "push_events_total",
			Help:      "Change notifications handled by kind",
		},
		[]string{"kind"},
	)
)

const (
	triggerExplicit = "explicit"
	triggerTimer    = "timer"
)
