package snapshot

import "github.com/prometheus/client_golang/prometheus"

// Label values for failure counters.
const (
	failAlreadyExists = "already_exists"
	failInvalid       = "invalid"
	failHook          = "hook"
	failIO            = "io"
)

// Collectors for snapshot lifecycle metrics.
var (
	SnapshotsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesnap_snapshots_created_total",
		Help: "Cumulative number of table snapshots created, by trigger.",
	}, []string{"trigger"})
	SnapshotCreateFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesnap_snapshot_create_failures_total",
		Help: "Cumulative number of failed snapshot creations, by cause.",
	}, []string{"cause"})
	SnapshotsClearedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesnap_snapshots_cleared_total",
		Help: "Cumulative number of table snapshots cleared, by reason.",
	}, []string{"reason"})
	SnapshotClearFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tablesnap_snapshot_clear_failures_total",
		Help: "Cumulative number of snapshot directories that could not be removed.",
	})
	RegistrySnapshots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tablesnap_registry_snapshots",
		Help: "Number of table snapshots currently known to the registry.",
	})
	RegistryRebuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tablesnap_registry_rebuild_seconds",
		Help:    "Duration of registry rebuilds from disk.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	DataDirUsedPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tablesnap_data_dir_used_percent",
		Help: "Disk usage of each data directory, sampled after expiration sweeps.",
	}, []string{"root"})
)

// Collectors returns every snapshot collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SnapshotsCreatedTotal,
		SnapshotCreateFailuresTotal,
		SnapshotsClearedTotal,
		SnapshotClearFailuresTotal,
		RegistrySnapshots,
		RegistryRebuildSeconds,
		DataDirUsedPercent,
	}
}
