// Package metrics exposes Prometheus collectors for the storage core,
// mirroring the teacher repo's pkg/metrics package-global-vars-plus-
// init-registration style.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Disk / disk-group gauges
	DisksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xsan_disks_total",
			Help: "Total number of disks by state",
		},
		[]string{"state"},
	)

	DiskGroupAllocatedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xsan_disk_group_allocated_bytes",
			Help: "Allocated bytes per disk group",
		},
		[]string{"group"},
	)

	DiskGroupUsableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xsan_disk_group_usable_bytes",
			Help: "Usable bytes per disk group",
		},
		[]string{"group"},
	)

	// Volume gauges
	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xsan_volumes_total",
			Help: "Total number of volumes",
		},
	)

	// I/O latency histograms
	IOReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xsan_io_read_duration_seconds",
			Help:    "Volume read latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"volume"},
	)

	IOWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xsan_io_write_duration_seconds",
			Help:    "Volume write latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"volume"},
	)

	IOErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xsan_io_errors_total",
			Help: "Total I/O errors by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	// Replication counters
	ReplicaWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xsan_replica_writes_total",
			Help: "Total replica write sub-operations by outcome",
		},
		[]string{"outcome"},
	)

	ReplicaReadFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xsan_replica_read_failovers_total",
			Help: "Total number of replica read failovers to the next replica",
		},
	)

	// Extent allocation
	ExtentAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xsan_extent_allocations_total",
			Help: "Total extent allocation attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(DisksTotal)
	prometheus.MustRegister(DiskGroupAllocatedBytes)
	prometheus.MustRegister(DiskGroupUsableBytes)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(IOReadDuration)
	prometheus.MustRegister(IOWriteDuration)
	prometheus.MustRegister(IOErrorsTotal)
	prometheus.MustRegister(ReplicaWritesTotal)
	prometheus.MustRegister(ReplicaReadFailoversTotal)
	prometheus.MustRegister(ExtentAllocationsTotal)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording its
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed duration into a histogram vec
// with the given label values.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
