// Package poller drives change detection. On a fixed interval it fetches the
// remote changelog head and triggers a full sync only when the head differs
// from the last fully-synced marker, so an unchanged backend costs one small
// request per tick.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/metrics"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/parser"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// State is the poller's externally visible phase.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateSyncing State = "syncing"
)

// ErrSyncInProgress is returned by Refresh while a poll or sync is running.
var ErrSyncInProgress = errors.New("sync already in progress")

// ChangelogFetcher fetches the newest remote changelog entry.
type ChangelogFetcher interface {
	FetchChangelog(ctx context.Context) (models.ChangelogMarker, error)
}

// Syncer runs one end-to-end content reconciliation.
type Syncer interface {
	Run(ctx context.Context) (*models.SyncReport, error)
}

// Poller owns the agent's poll loop and the sync-in-progress guard: ticks
// and manual refreshes never overlap.
type Poller struct {
	fetcher  ChangelogFetcher
	catalog  *catalog.Catalog
	syncer   Syncer
	interval time.Duration

	mu    sync.Mutex
	state State
	busy  bool
}

// New creates a Poller. interval defaults to one minute.
func New(fetcher ChangelogFetcher, cat *catalog.Catalog, syncer Syncer, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		fetcher:  fetcher,
		catalog:  cat,
		syncer:   syncer,
		interval: interval,
		state:    StateIdle,
	}
}

// Run drives the poll loop until ctx is cancelled. The first poll happens
// immediately, not one interval in.
func (p *Poller) Run(ctx context.Context) {
	logger.Log.Info("Change poller started", zap.Duration("interval", p.interval))

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce(ctx)
		case <-ctx.Done():
			logger.Log.Info("Change poller stopped")
			return
		}
	}
}

// Refresh runs one full sync immediately, regardless of the changelog state.
// It returns ErrSyncInProgress when a poll or sync is already running.
func (p *Poller) Refresh(ctx context.Context) (*models.SyncReport, error) {
	if !p.acquire(StateSyncing) {
		return nil, ErrSyncInProgress
	}
	defer p.release()

	// Best-effort head fetch so a successful manual sync still advances the
	// marker; without it the next tick would sync the same content again.
	head, headErr := p.fetcher.FetchChangelog(ctx)

	report, err := p.syncer.Run(ctx)
	if err != nil {
		return nil, err
	}

	if report.Succeeded() && headErr == nil {
		if err := p.catalog.SetMarker(ctx, head); err != nil {
			logger.Log.Error("Failed to persist changelog marker", zap.Error(err))
		}
	}
	return report, nil
}

// State returns the poller's current phase.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// pollOnce performs one tick: fetch the changelog head, compare it to the
// marker, sync on difference. Failures are deferred to the next tick.
func (p *Poller) pollOnce(ctx context.Context) {
	if !p.acquire(StatePolling) {
		logger.Log.Debug("Skipping poll tick, sync in progress")
		return
	}
	defer p.release()

	head, err := p.fetcher.FetchChangelog(ctx)
	if err != nil {
		if errors.Is(err, parser.ErrEmptyChangelog) {
			// A backend without changelog entries has nothing to sync yet.
			metrics.PollTicks.WithLabelValues(metrics.OutcomeNoChange).Inc()
			logger.Log.Debug("Changelog empty, nothing to sync")
			return
		}
		// A failed poll is never "no change": the marker stays put and the
		// next tick retries, so an outage cannot mask a real update.
		metrics.PollTicks.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Log.Warn("Changelog poll failed, retrying next tick", zap.Error(err))
		return
	}

	marker := p.catalog.Marker()
	if !marker.IsZero() && marker.ID == head.ID {
		metrics.PollTicks.WithLabelValues(metrics.OutcomeNoChange).Inc()
		logger.Log.Debug("No content change", zap.String("marker", marker.ID))
		return
	}

	metrics.PollTicks.WithLabelValues(metrics.OutcomeChanged).Inc()
	logger.Log.Info("Content change detected",
		zap.String("previousMarker", marker.ID),
		zap.String("head", head.ID),
	)

	p.setState(StateSyncing)
	p.syncAndAdvance(ctx, head)
}

// syncAndAdvance runs the sync service and moves the marker only after a
// fully successful run. Partial download failures leave the marker alone so
// the next tick retries the whole reconciliation.
func (p *Poller) syncAndAdvance(ctx context.Context, head models.ChangelogMarker) {
	report, err := p.syncer.Run(ctx)
	if err != nil {
		logger.Log.Error("Sync failed, marker not advanced", zap.Error(err))
		return
	}
	if !report.Succeeded() {
		logger.Log.Warn("Sync finished with failures, marker not advanced",
			zap.Strings("failed", report.Failed))
		return
	}

	if err := p.catalog.SetMarker(ctx, head); err != nil {
		logger.Log.Error("Failed to persist changelog marker", zap.Error(err))
		return
	}
	logger.Log.Info("Changelog marker advanced", zap.String("marker", head.ID))
}

func (p *Poller) acquire(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	p.state = s
	return true
}

func (p *Poller) release() {
	p.mu.Lock()
	p.busy = false
	p.state = StateIdle
	p.mu.Unlock()
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
