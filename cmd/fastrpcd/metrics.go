// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc",
			Name:      "domain_up",
			Help:      "1 if the domain has a ready session",
		},
		[]string{"domain"},
	)

	domainHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc",
			Name:      "domain_handles",
			Help:      "Module handles open on the domain",
		},
		[]string{"domain"},
	)

	domainInvokes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc",
			Name:      "domain_invokes",
			Help:      "Calls made on the domain since startup",
		},
		[]string{"domain"},
	)

	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc",
			Name:      "session_restarts_total",
			Help:      "Sessions reopened after their listener stopped",
		},
		[]string{"domain"},
	)

	openFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diffeo",
			Subsystem: "fastrpc",
			Name:      "session_open_failures_total",
			Help:      "Failed attempts to open a domain session",
		},
		[]string{"domain"},
	)
)

func init() {
	prometheus.MustRegister(domainUp, domainHandles, domainInvokes, restarts, openFailures)
}

// record copies one snapshot of domain statistics into the gauges.
func record(stats []domain.Stats) {
	for _, st := range stats {
		name := st.Domain.String()
		up := 0.0
		if st.State == "ready" {
			up = 1
		}
		domainUp.WithLabelValues(name).Set(up)
		domainHandles.WithLabelValues(name).Set(float64(st.Handles))
		domainInvokes.WithLabelValues(name).Set(float64(st.Invokes))
	}
}

// observe records m's statistics every interval until ctx ends.
func observe(ctx context.Context, m *domain.Manager, clk clock.Clock, interval time.Duration) error {
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		record(m.Stats())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
