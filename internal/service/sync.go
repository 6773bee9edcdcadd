// Package service runs the end-to-end content reconciliation: pull the
// manifest, reconcile the catalog, fill download gaps, and report the run.
// The change poller and the manual refresh endpoint both trigger it; the
// poller's guard ensures runs never overlap.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/downloader"
	"github.com/adloop/signage-agent-go/internal/metrics"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/remote"
	"github.com/adloop/signage-agent-go/internal/telemetry"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// SyncService wires the fetch, parse, merge and download stages into one run.
type SyncService struct {
	client     *remote.Client
	catalog    *catalog.Catalog
	downloader *downloader.Service
	publisher  *telemetry.Publisher
	deviceID   string

	mu         sync.RWMutex
	lastReport *models.SyncReport
	progress   downloader.Progress
}

// NewSyncService creates a new SyncService instance. publisher may be nil
// when telemetry is disabled; deviceID may be empty when the device is not
// registered remotely.
func NewSyncService(client *remote.Client, cat *catalog.Catalog, dl *downloader.Service, publisher *telemetry.Publisher, deviceID string) *SyncService {
	return &SyncService{
		client:     client,
		catalog:    cat,
		downloader: dl,
		publisher:  publisher,
		deviceID:   deviceID,
	}
}

// Run performs one full reconciliation and returns its report. A returned
// error means the run aborted before the catalog changed hands (fetch, parse
// or merge failed); download failures do not error, they land in the report's
// Failed list so the caller can judge overall success.
func (s *SyncService) Run(ctx context.Context) (*models.SyncReport, error) {
	runID := uuid.New()
	started := time.Now()

	logger.Log.Info("Sync run started", zap.String("runId", runID.String()))
	metrics.SyncInProgress.Set(1)
	defer metrics.SyncInProgress.Set(0)

	// Step 1: Refresh the device document (auxiliary, never aborts the run)
	if err := s.RefreshDevice(ctx); err != nil {
		logger.Log.Warn("Failed to refresh device info",
			zap.Error(err),
			zap.String("runId", runID.String()),
		)
	}

	// Step 2: Fetch and parse the manifest
	playlists, videos, err := s.client.FetchManifest(ctx)
	if err != nil {
		logger.Log.Error("Failed to fetch manifest",
			zap.Error(err),
			zap.String("runId", runID.String()),
		)
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	// Step 3: Reconcile the catalog
	if err := s.catalog.Merge(ctx, playlists, videos); err != nil {
		logger.Log.Error("Failed to merge catalog",
			zap.Error(err),
			zap.String("runId", runID.String()),
		)
		return nil, fmt.Errorf("merge catalog: %w", err)
	}
	metrics.SetCatalogSize(len(s.catalog.Videos()), len(s.catalog.Playlists()))

	// Step 4: Fill download gaps, tracking progress
	events, err := s.downloader.Sync(ctx, s.catalog.Videos())
	if err != nil {
		return nil, fmt.Errorf("start downloads: %w", err)
	}

	var last downloader.Progress
	for p := range events {
		s.setProgress(p)
		s.countResolution(p)
		last = p
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("sync cancelled: %w", ctx.Err())
	}

	// Step 5: Build and record the report
	report := &models.SyncReport{
		RunID:     runID,
		Started:   started,
		Finished:  time.Now(),
		Total:     last.Total,
		Completed: last.Completed,
		Failed:    last.Failed,
	}

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	metrics.ObserveSyncRun(report.Succeeded())
	if report.Succeeded() {
		metrics.LastSyncTimestamp.SetToCurrentTime()
	}

	// Step 6: Publish telemetry
	if s.publisher != nil {
		if err := s.publisher.PublishReport(ctx, *report); err != nil {
			logger.Log.Error("Failed to publish sync report",
				zap.Error(err),
				zap.String("runId", runID.String()),
			)
		}
	}

	logger.Log.Info("Sync run finished",
		zap.String("runId", runID.String()),
		zap.Int("total", report.Total),
		zap.Int("completed", report.Completed),
		zap.Strings("failed", report.Failed),
		zap.Duration("duration", report.Finished.Sub(report.Started)),
	)

	return report, nil
}

// RefreshDevice pulls the device document and caches it in the catalog. A
// no-op when no device id is configured.
func (s *SyncService) RefreshDevice(ctx context.Context) error {
	if s.deviceID == "" {
		return nil
	}

	device, err := s.client.FetchDevice(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("fetch device: %w", err)
	}
	if err := s.catalog.SetDevice(ctx, device); err != nil {
		return fmt.Errorf("store device: %w", err)
	}

	logger.Log.Info("Device info refreshed",
		zap.String("deviceId", device.ID),
		zap.Bool("active", device.Active),
	)
	return nil
}

// VerifyLocal re-checks downloaded videos against disk. Run once at startup
// before the first sync.
func (s *SyncService) VerifyLocal(ctx context.Context) error {
	return s.downloader.VerifyLocal(ctx)
}

// LastReport returns the most recent finished run, or nil before the first.
func (s *SyncService) LastReport() *models.SyncReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastReport == nil {
		return nil
	}
	report := *s.lastReport
	return &report
}

// Progress returns the latest observed download progress event.
func (s *SyncService) Progress() downloader.Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *SyncService) setProgress(p downloader.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// countResolution feeds the download counters from one progress event.
func (s *SyncService) countResolution(p downloader.Progress) {
	if p.VideoID == "" {
		return
	}
	for _, id := range p.Failed {
		if id == p.VideoID {
			metrics.DownloadFailures.Inc()
			return
		}
	}
	metrics.VideosDownloaded.Inc()
}
