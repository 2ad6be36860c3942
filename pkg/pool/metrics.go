/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

type poolMetrics struct {
	channels    *prometheus.GaugeVec
	assignments *prometheus.GaugeVec

	channelsCreated    *prometheus.CounterVec
	channelReuses      *prometheus.CounterVec
	initializeFailures *prometheus.CounterVec
}

func getGaugeOpts(name string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: "tasknet",
		Subsystem: "pool",
		Name:      name,
	}
}

func getCounterOpts(name string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: "tasknet",
		Subsystem: "pool",
		Name:      name,
	}
}

var metrics = newPoolMetrics()

func newPoolMetrics() *poolMetrics {
	m := &poolMetrics{
		channels:           prometheus.NewGaugeVec(getGaugeOpts("channels"), []string{"pool"}),
		assignments:        prometheus.NewGaugeVec(getGaugeOpts("assignments"), []string{"pool"}),
		channelsCreated:    prometheus.NewCounterVec(getCounterOpts("channelsCreated"), []string{"pool"}),
		channelReuses:      prometheus.NewCounterVec(getCounterOpts("channelReuses"), []string{"pool"}),
		initializeFailures: prometheus.NewCounterVec(getCounterOpts("initializeFailures"), []string{"pool"}),
	}

	prometheus.MustRegister(m.channels, m.assignments, m.channelsCreated, m.channelReuses, m.initializeFailures)

	return m
}

// The observe helpers run with the pool lock held, so counts are read
// directly from the pool.

func (m *poolMetrics) observeAcquire(name string, channels int, assignments int, reused bool) {
	if reused {
		m.channelReuses.WithLabelValues(name).Inc()
	} else {
		m.channelsCreated.WithLabelValues(name).Inc()
	}

	m.channels.WithLabelValues(name).Set(float64(channels))
	m.assignments.WithLabelValues(name).Set(float64(assignments))
}

func (m *poolMetrics) observeRelease(name string, channels int, assignments int) {
	m.channels.WithLabelValues(name).Set(float64(channels))
	m.assignments.WithLabelValues(name).Set(float64(assignments))
}

func (m *poolMetrics) observeInitializeFailure(name string) {
	m.initializeFailures.WithLabelValues(name).Inc()
}

func (m *poolMetrics) observeTeardown(name string) {
	m.channels.WithLabelValues(name).Set(0)
	m.assignments.WithLabelValues(name).Set(0)
}
