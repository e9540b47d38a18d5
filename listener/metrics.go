// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc_listener",
			Name:      "invocations_total",
			Help:      "Calls dispatched by the listener",
		},
		[]string{"domain"},
	)

	failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc_listener",
			Name:      "failures_total",
			Help:      "Listener calls that returned an error",
		},
		[]string{"domain", "stage"},
	)

	resizes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc_listener",
			Name:      "buffer_resizes_total",
			Help:      "Listener buffer reallocations",
		},
		[]string{"domain", "direction"},
	)
)

func init() {
	prometheus.MustRegister(invocations, failures, resizes)
}
