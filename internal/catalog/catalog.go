// Package catalog is the local durable record of playlists, videos, and
// per-video download state, backed by the key-value store. All mutations
// serialize behind one writer lock and write through to the store; readers
// get the last committed state.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/kvstore"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// Storage keys. Values are whole-collection JSON documents.
const (
	keyVideos    = "catalog/videos"
	keyPlaylists = "catalog/playlists"
	keyMarker    = "changelog/marker"
	keyDevice    = "device/info"
)

// ErrVideoNotFound is returned when a mutation names an unknown video id.
var ErrVideoNotFound = errors.New("video not found in catalog")

// Snapshot is a stable copy of the catalog for readers. The scheduler works
// against a snapshot so it never blocks, or is blocked by, a running sync.
type Snapshot struct {
	Videos    map[string]models.Video
	Playlists []models.Playlist
	Device    *models.DeviceInfo
	Marker    models.ChangelogMarker
}

// Catalog owns the persisted content state of the agent.
type Catalog struct {
	store kvstore.Store

	mu        sync.RWMutex
	videos    map[string]models.Video
	playlists []models.Playlist
	marker    models.ChangelogMarker
	device    models.DeviceInfo
	hasDevice bool
}

// Open loads the persisted catalog from the store. Missing keys mean a fresh
// install; a value that no longer decodes is dropped with a warning and the
// next sync rebuilds it from the remote manifest.
func Open(ctx context.Context, store kvstore.Store) (*Catalog, error) {
	c := &Catalog{
		store:  store,
		videos: make(map[string]models.Video),
	}

	var videos []models.Video
	if ok, err := c.load(ctx, keyVideos, &videos); err != nil {
		return nil, err
	} else if ok {
		for _, v := range videos {
			c.videos[v.ID] = v
		}
	}

	if _, err := c.load(ctx, keyPlaylists, &c.playlists); err != nil {
		return nil, err
	}
	if _, err := c.load(ctx, keyMarker, &c.marker); err != nil {
		return nil, err
	}
	if ok, err := c.load(ctx, keyDevice, &c.device); err != nil {
		return nil, err
	} else if ok {
		c.hasDevice = true
	}

	return c, nil
}

func (c *Catalog) load(ctx context.Context, key string, out any) (bool, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if kvstore.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		logger.Log.Warn("Dropping undecodable catalog value",
			zap.String("key", key),
			zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Merge replaces the playlist set and reconciles the video set against a
// freshly parsed manifest. A new video with the same id as an existing one
// inherits its Downloaded/LocalPath; manifest-declared fields are taken from
// the new record. Ids absent from the new set are dropped together with their
// download state. An empty new video set keeps the existing records, since
// the flat manifest schema declares playlists without asset descriptors.
func (c *Catalog) Merge(ctx context.Context, playlists []models.Playlist, videos []models.Video) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	nextVideos := c.videos
	if len(videos) > 0 {
		nextVideos = make(map[string]models.Video, len(videos))
		for _, v := range videos {
			if old, ok := c.videos[v.ID]; ok {
				v.Downloaded = old.Downloaded
				v.LocalPath = old.LocalPath
			}
			nextVideos[v.ID] = v
		}
		if err := c.persist(ctx, keyVideos, videoList(nextVideos)); err != nil {
			return err
		}
	}

	nextPlaylists := make([]models.Playlist, len(playlists))
	copy(nextPlaylists, playlists)

	if err := c.persist(ctx, keyPlaylists, nextPlaylists); err != nil {
		return err
	}

	c.videos = nextVideos
	c.playlists = nextPlaylists
	return nil
}

// MarkDownloaded records a completed download. It is the only mutation that
// sets Downloaded to true.
func (c *Catalog) MarkDownloaded(ctx context.Context, id, localPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	video, ok := c.videos[id]
	if !ok {
		return fmt.Errorf("mark downloaded %s: %w", id, ErrVideoNotFound)
	}

	video.Downloaded = true
	video.LocalPath = localPath
	c.videos[id] = video

	return c.persist(ctx, keyVideos, videoList(c.videos))
}

// ClearDownloaded resets a video's download state, used when startup
// verification finds the backing file missing or empty.
func (c *Catalog) ClearDownloaded(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	video, ok := c.videos[id]
	if !ok {
		return fmt.Errorf("clear downloaded %s: %w", id, ErrVideoNotFound)
	}

	video.Downloaded = false
	video.LocalPath = ""
	c.videos[id] = video

	return c.persist(ctx, keyVideos, videoList(c.videos))
}

// ListUndownloaded returns the videos still needing a fetch, ordered by id.
func (c *Catalog) ListUndownloaded() []models.Video {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var pending []models.Video
	for _, v := range c.videos {
		if !v.Downloaded {
			pending = append(pending, v)
		}
	}
	sortVideos(pending)
	return pending
}

// Videos returns all catalog videos ordered by id.
func (c *Catalog) Videos() []models.Video {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return videoList(c.videos)
}

// Video looks up a single video by id.
func (c *Catalog) Video(id string) (models.Video, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.videos[id]
	return v, ok
}

// Playlists returns the playlist set in manifest order.
func (c *Catalog) Playlists() []models.Playlist {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Playlist, len(c.playlists))
	copy(out, c.playlists)
	return out
}

// Snapshot returns a stable copy of the whole catalog.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	videos := make(map[string]models.Video, len(c.videos))
	for id, v := range c.videos {
		videos[id] = v
	}

	playlists := make([]models.Playlist, len(c.playlists))
	copy(playlists, c.playlists)

	snap := Snapshot{
		Videos:    videos,
		Playlists: playlists,
		Marker:    c.marker,
	}
	if c.hasDevice {
		device := c.device
		snap.Device = &device
	}
	return snap
}

// Marker returns the persisted changelog marker.
func (c *Catalog) Marker() models.ChangelogMarker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.marker
}

// SetMarker persists a new changelog marker. Callers only advance it after a
// fully successful sync.
func (c *Catalog) SetMarker(ctx context.Context, marker models.ChangelogMarker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.persist(ctx, keyMarker, marker); err != nil {
		return err
	}
	c.marker = marker
	return nil
}

// ClearMarker removes the persisted marker, forcing a full re-sync on the
// next poll.
func (c *Catalog) ClearMarker(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(ctx, keyMarker); err != nil {
		return fmt.Errorf("clear marker: %w", err)
	}
	c.marker = models.ChangelogMarker{}
	return nil
}

// Device returns the cached device document, if one was ever fetched.
func (c *Catalog) Device() (models.DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device, c.hasDevice
}

// SetDevice caches the device registration document.
func (c *Catalog) SetDevice(ctx context.Context, device models.DeviceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.persist(ctx, keyDevice, device); err != nil {
		return err
	}
	c.device = device
	c.hasDevice = true
	return nil
}

func (c *Catalog) persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func videoList(videos map[string]models.Video) []models.Video {
	out := make([]models.Video, 0, len(videos))
	for _, v := range videos {
		out = append(out, v)
	}
	sortVideos(out)
	return out
}

func sortVideos(videos []models.Video) {
	sort.Slice(videos, func(i, j int) bool {
		return models.CompareIDs(videos[i].ID, videos[j].ID) < 0
	})
}
