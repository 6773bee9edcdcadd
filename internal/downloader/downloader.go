// Package downloader fills the gap between the catalog's declared videos and
// the files on disk. It fetches every undownloaded video through a bounded
// worker pool, marks completions in the catalog, and reports aggregate
// progress as an event stream.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/remote"
	"github.com/adloop/signage-agent-go/internal/retry"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

const (
	partSuffix = ".part"
	defaultExt = ".mp4"
)

// Progress is one event on the download stream, emitted after each video
// resolves (downloaded or given up on). Percent counts resolved items over
// the run's total, so a run with failures still reaches 100. The stream is
// closed after the terminal event.
type Progress struct {
	VideoID   string
	Completed int
	Total     int
	Percent   float64
	Failed    []string
}

// Config holds download policy.
type Config struct {
	MediaDir     string
	MaxParallel  int
	FetchTimeout time.Duration
	Retry        retry.Config
}

// Service is the download orchestrator. Safe to re-invoke at any time:
// already-downloaded videos cost no network calls.
type Service struct {
	catalog *catalog.Catalog
	client  remote.HTTPClient
	cfg     Config

	mu      sync.Mutex
	onError func(videoID string, err error)
}

// NewService creates a download Service. A nil httpClient gets a default
// without a global timeout; per-fetch deadlines come from FetchTimeout.
func NewService(cat *catalog.Catalog, httpClient remote.HTTPClient, cfg Config) *Service {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 3
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Minute
	}
	return &Service{
		catalog: cat,
		client:  httpClient,
		cfg:     cfg,
	}
}

// SetErrorCallback registers the callback invoked for each video whose
// retries are exhausted. The callback owns the overall-success decision.
func (s *Service) SetErrorCallback(callback func(videoID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

// Sync reconciles the given videos against local disk. It returns a progress
// stream that emits once per resolved video and closes after the terminal
// event. Cancelling ctx stops in-flight fetches; partial files stay on disk
// for the next attempt.
func (s *Service) Sync(ctx context.Context, videos []models.Video) (<-chan Progress, error) {
	if err := os.MkdirAll(s.cfg.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}

	var work []models.Video
	for _, v := range videos {
		if !v.Downloaded {
			work = append(work, v)
		}
	}

	// One slot per resolution plus the empty-run terminal event, so workers
	// never block on a slow consumer.
	events := make(chan Progress, len(work)+1)

	if len(work) == 0 {
		events <- Progress{Total: 0, Percent: 100}
		close(events)
		return events, nil
	}

	go s.run(ctx, work, events)
	return events, nil
}

type runState struct {
	mu        sync.Mutex
	completed int
	failed    []string
}

func (s *Service) run(ctx context.Context, work []models.Video, events chan<- Progress) {
	defer close(events)

	total := len(work)
	state := &runState{}

	jobs := make(chan models.Video)
	var wg sync.WaitGroup

	workers := s.cfg.MaxParallel
	if workers > total {
		workers = total
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for video := range jobs {
				if ctx.Err() != nil {
					return
				}
				s.resolve(ctx, video, state, total, events)
			}
		}()
	}

	for _, video := range work {
		select {
		case jobs <- video:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
}

// resolve settles one video: skip, fetch, or give up. Exactly one progress
// event is emitted per call.
func (s *Service) resolve(ctx context.Context, video models.Video, state *runState, total int, events chan<- Progress) {
	dest := s.localPath(video)

	err := s.fetchIfMissing(ctx, video, dest)
	if err == nil {
		err = s.catalog.MarkDownloaded(ctx, video.ID, dest)
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled runs end quietly; the next sync picks the video up.
			return
		}
		state.failed = append(state.failed, video.ID)
		logger.Log.Warn("Video download failed",
			zap.String("videoId", video.ID),
			zap.String("url", video.RemoteURL),
			zap.Error(err))
		s.notifyError(video.ID, err)
	} else {
		state.completed++
	}

	resolved := state.completed + len(state.failed)
	events <- Progress{
		VideoID:   video.ID,
		Completed: state.completed,
		Total:     total,
		Percent:   float64(resolved) / float64(total) * 100,
		Failed:    append([]string(nil), state.failed...),
	}
}

// fetchIfMissing downloads the video unless a finished file already proves
// the work done. A non-empty file at the final path is trusted, because the
// partial file is renamed there only after a complete copy.
func (s *Service) fetchIfMissing(ctx context.Context, video models.Video, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		logger.Log.Debug("Video already on disk",
			zap.String("videoId", video.ID),
			zap.String("path", dest))
		return nil
	}

	return retry.Do(ctx, s.cfg.Retry, remote.Retryable, func(ctx context.Context) error {
		return s.fetchOnce(ctx, video, dest)
	})
}

func (s *Service) fetchOnce(ctx context.Context, video models.Video, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, video.RemoteURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &remote.TransportError{URL: video.RemoteURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &remote.TransportError{
			URL:    video.RemoteURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status"),
		}
	}

	// Leftover partials from crashed or cancelled runs are overwritten.
	part := dest + partSuffix
	file, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create partial file: %w", err)
	}

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		file.Close()
		return &remote.TransportError{URL: video.RemoteURL, Status: resp.StatusCode, Err: err}
	}
	if written == 0 {
		file.Close()
		os.Remove(part)
		return &remote.TransportError{
			URL:    video.RemoteURL,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("empty response body"),
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync partial file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}

// VerifyLocal re-checks every downloaded video against disk at startup and
// clears the download state of any whose file is missing or empty, so the
// next sync re-fetches it.
func (s *Service) VerifyLocal(ctx context.Context) error {
	for _, video := range s.catalog.Videos() {
		if !video.Downloaded {
			continue
		}

		info, err := os.Stat(video.LocalPath)
		if err == nil && info.Size() > 0 {
			continue
		}

		logger.Log.Warn("Downloaded video missing on disk, clearing state",
			zap.String("videoId", video.ID),
			zap.String("path", video.LocalPath))
		if err := s.catalog.ClearDownloaded(ctx, video.ID); err != nil {
			return fmt.Errorf("clear downloaded %s: %w", video.ID, err)
		}
	}
	return nil
}

// localPath derives the deterministic destination for a video from its id,
// so retries and later runs land on the same file.
func (s *Service) localPath(video models.Video) string {
	ext := defaultExt
	if u, err := url.Parse(video.RemoteURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 8 {
			ext = e
		}
	}
	return filepath.Join(s.cfg.MediaDir, video.ID+ext)
}

func (s *Service) notifyError(videoID string, err error) {
	s.mu.Lock()
	callback := s.onError
	s.mu.Unlock()

	if callback != nil {
		callback(videoID, err)
	}
}
