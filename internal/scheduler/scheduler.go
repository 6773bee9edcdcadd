// Package scheduler decides what should be on screen. Given the catalog's
// playlists and the wall-clock time it selects the single active playlist and
// resolves it to an ordered sequence of playable local files.
package scheduler

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// Selection is the resolved playback plan for one moment in time. Paths
// holds only videos that are downloaded and on disk; a selection with an
// active playlist but no playable files has an empty Paths, which is
// distinct from no playlist matching at all (a nil Selection).
type Selection struct {
	Playlist models.Playlist
	Videos   []models.Video
	Paths    []string
}

// SelectActive picks the playlist whose window contains now and resolves its
// video ids against the catalog snapshot. When several windows overlap, the
// lowest Order wins and ties fall back to ascending id. Returns nil when no
// active playlist matches.
func SelectActive(playlists []models.Playlist, videos map[string]models.Video, now models.TimeOfDay) *Selection {
	var best *models.Playlist
	for i := range playlists {
		p := &playlists[i]
		if !p.Active || !p.Contains(now) {
			continue
		}
		if best == nil || playlistLess(*p, *best) {
			best = p
		}
	}
	if best == nil {
		return nil
	}

	selection := &Selection{Playlist: *best}
	for _, id := range best.VideoIDs {
		video, ok := videos[id]
		if !ok {
			logger.Log.Warn("Dropping playlist entry",
				zap.Error(&IntegrityError{PlaylistID: best.ID, VideoID: id}))
			continue
		}
		if !video.Downloaded || video.LocalPath == "" {
			logger.Log.Debug("Skipping video not yet downloaded",
				zap.String("playlistId", best.ID),
				zap.String("videoId", id))
			continue
		}
		selection.Videos = append(selection.Videos, video)
		selection.Paths = append(selection.Paths, video.LocalPath)
	}
	return selection
}

// playlistLess orders playlists by Order, then by id. It decides which of
// two simultaneously matching windows takes the screen.
func playlistLess(a, b models.Playlist) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return models.CompareIDs(a.ID, b.ID) < 0
}

// Service answers "what plays now" against the live catalog.
type Service struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// NewService creates a scheduler over the given catalog.
func NewService(cat *catalog.Catalog) *Service {
	return &Service{catalog: cat, now: time.Now}
}

// SetClock replaces the wall clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Current returns the playback plan for this moment, or nil when nothing is
// scheduled. A device that is registered but marked inactive plays nothing.
func (s *Service) Current() *Selection {
	snap := s.catalog.Snapshot()
	if snap.Device != nil && !snap.Device.Active {
		logger.Log.Debug("Device inactive, suppressing playback",
			zap.String("deviceId", snap.Device.ID))
		return nil
	}
	return SelectActive(snap.Playlists, snap.Videos, models.ClockTime(s.now()))
}

// At returns the playback plan for an arbitrary time of day, ignoring the
// device-active gate. Used by operator tooling to inspect the schedule.
func (s *Service) At(now models.TimeOfDay) *Selection {
	snap := s.catalog.Snapshot()
	return SelectActive(snap.Playlists, snap.Videos, now)
}

// IntegrityError reports a playlist entry naming a video id the catalog does
// not contain. The entry is dropped from the resolved sequence; playback
// continues with the videos that resolve.
type IntegrityError struct {
	PlaylistID string
	VideoID    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("playlist %s references unknown video %s", e.PlaylistID, e.VideoID)
}
