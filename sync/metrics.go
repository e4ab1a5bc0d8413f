package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	promPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3stream_sync_passes_total",
			Help: "Total number of synchronization passes",
		},
		[]string{"status"},
	)
	promEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3stream_sync_entries_total",
			Help: "Total number of remote entries processed, by outcome",
		},
		[]string{"outcome"},
	)
	promRemoteDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "s3stream_sync_remote_deletes_total",
			Help: "Total number of remote deletes after download",
		},
		[]string{"status"},
	)
	promPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "s3stream_sync_pass_duration_seconds",
			Help:    "Duration of synchronization passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(promPassesTotal)
	prometheus.MustRegister(promEntriesTotal)
	prometheus.MustRegister(promRemoteDeletes)
	prometheus.MustRegister(promPassDuration)
}
