// Package stats declares prometheus metrics for tasks fired, bytes sent,
// RDMA gets in flight, and fence latency — diagnostics only, never
// consulted by correctness logic (spec.md's Non-goals do not exclude
// observability). Only FenceLatencySeconds is updated by the runtime
// (world.World.Fence); nothing in this module updates TasksFired,
// BytesSent or RDMAGetsInFlight.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

var (
	TasksFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ttg",
		Name:      "tasks_fired_total",
		Help:      "Total number of tasks fired across all operators.",
	})
	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ttg",
		Name:      "bytes_sent_total",
		Help:      "Total bytes sent over active-message frames.",
	})
	RDMAGetsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ttg",
		Name:      "rdma_gets_in_flight",
		Help:      "Number of split-metadata RDMA gets currently outstanding.",
	})
	FenceLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ttg",
		Name:      "fence_latency_seconds",
		Help:      "Wall-clock time spent blocked inside fence().",
		Buckets:   prometheus.DefBuckets,
	})
)

// Registry bundles the above into one prometheus.Registry for processes
// that want to expose them (e.g. via an HTTP /metrics handler the caller
// wires up itself).
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(TasksFired, BytesSent, RDMAGetsInFlight, FenceLatencySeconds)
	return r
}
