package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrentd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentd",
		Name:      "active_torrents",
		Help:      "Number of currently tracked torrents.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentd",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentd",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentd",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	AlertsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "alerts_processed_total",
		Help:      "Total engine alerts processed by kind.",
	}, []string{"kind"})

	AlertPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "alert_panics_total",
		Help:      "Total panics recovered while handling engine alerts.",
	})

	ResumeSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "resume_saves_total",
		Help:      "Total resume data payloads written to disk.",
	})

	ResumeSaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "resume_save_failures_total",
		Help:      "Total resume data save failures.",
	})

	CompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "completions_total",
		Help:      "Total torrents that reached completion.",
	})

	SettingsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "settings_rejected_total",
		Help:      "Total rejected settings applications by key.",
	}, []string{"key"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTorrents,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		AlertsProcessedTotal,
		AlertPanicsTotal,
		ResumeSavesTotal,
		ResumeSaveFailuresTotal,
		CompletionsTotal,
		SettingsRejectedTotal,
	)
}
