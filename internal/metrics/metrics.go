// Package metrics exposes Prometheus collectors for the agent's sync loop.
// The registry is served by the HTTP API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for SyncRuns.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// Label values for PollTicks.
const (
	OutcomeNoChange = "no_change"
	OutcomeChanged  = "changed"
	OutcomeError    = "error"
)

var (
	// SyncRuns counts finished sync runs by result.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_sync_runs_total",
		Help: "Finished sync runs by result.",
	}, []string{"result"})

	// SyncInProgress is 1 while a sync run is active.
	SyncInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_sync_in_progress",
		Help: "Whether a sync run is currently active.",
	})

	// LastSyncTimestamp is the unix time of the last successful sync.
	LastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_last_sync_timestamp_seconds",
		Help: "Unix timestamp of the last fully successful sync.",
	})

	// PollTicks counts change-poller ticks by outcome.
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_poll_ticks_total",
		Help: "Change poller ticks by outcome.",
	}, []string{"outcome"})

	// VideosDownloaded counts videos fetched to completion.
	VideosDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signage_videos_downloaded_total",
		Help: "Videos downloaded to completion.",
	})

	// DownloadFailures counts videos whose retries were exhausted.
	DownloadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signage_video_download_failures_total",
		Help: "Videos that failed to download after retries.",
	})

	// CatalogVideos tracks the current catalog video count.
	CatalogVideos = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_catalog_videos",
		Help: "Videos currently in the catalog.",
	})

	// CatalogPlaylists tracks the current catalog playlist count.
	CatalogPlaylists = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_catalog_playlists",
		Help: "Playlists currently in the catalog.",
	})
)

// ObserveSyncRun records one finished run.
func ObserveSyncRun(succeeded bool) {
	if succeeded {
		SyncRuns.WithLabelValues(ResultCompleted).Inc()
		return
	}
	SyncRuns.WithLabelValues(ResultFailed).Inc()
}

// SetCatalogSize updates the catalog gauges after a merge.
func SetCatalogSize(videos, playlists int) {
	CatalogVideos.Set(float64(videos))
	CatalogPlaylists.Set(float64(playlists))
}
