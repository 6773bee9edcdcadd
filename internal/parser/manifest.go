// Package parser converts remote content-manifest and changelog documents
// into the agent's internal records.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// FormatError reports a document whose top-level shape matches none of the
// supported schemas. Callers abort the sync and keep the previous catalog.
type FormatError struct {
	Doc string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s format unrecognized: %v", e.Doc, e.Err)
	}
	return fmt.Sprintf("%s format unrecognized", e.Doc)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// flexID accepts a JSON string or number and normalizes it to a decimal
// string. The remote API is inconsistent about id types across collections.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// manifestPlaylist covers both supported playlist schemas: the flat form
// carries startTime plus bare videoIds, the enveloped form carries beginTime
// plus nested asset descriptors. Field names never collide, so one struct
// decodes either.
type manifestPlaylist struct {
	ID        flexID          `json:"id"`
	Name      string          `json:"name"`
	BeginTime string          `json:"beginTime"`
	StartTime string          `json:"startTime"`
	EndTime   string          `json:"endTime"`
	Active    *bool           `json:"active"`
	Order     int             `json:"order"`
	VideoIDs  []flexID        `json:"videoIds"`
	Assets    []manifestAsset `json:"assets"`
}

type manifestAsset struct {
	MediaAsset *mediaAsset `json:"media_assets_id"`
}

type mediaAsset struct {
	Title   string     `json:"title"`
	FileURL string     `json:"fileUrl"`
	File    *mediaFile `json:"file"`
}

type mediaFile struct {
	ID           flexID `json:"id"`
	FilenameDisk string `json:"filename_disk"`
}

// ParseManifest parses a manifest document and returns the declared playlists
// and videos. Both schemas are accepted: a flat playlist array and an
// enveloped {data:[...]} object. A top-level shape mismatch returns a
// *FormatError; a malformed individual playlist or asset is skipped with a
// warning and never fails the whole parse.
func ParseManifest(data []byte) ([]models.Playlist, []models.Video, error) {
	entries, err := manifestEntries(data)
	if err != nil {
		return nil, nil, err
	}

	playlists := make([]models.Playlist, 0, len(entries))
	videos := make([]models.Video, 0)
	seen := make(map[string]bool)

	for i, entry := range entries {
		playlist, ok := mapPlaylist(i, entry)
		if !ok {
			continue
		}

		for pos, asset := range entry.Assets {
			video, ok := mapAsset(playlist.ID, pos, asset)
			if !ok {
				continue
			}
			playlist.VideoIDs = append(playlist.VideoIDs, video.ID)
			if !seen[video.ID] {
				seen[video.ID] = true
				videos = append(videos, video)
			}
		}

		// Flat-schema playlists reference videos by id only; the records
		// themselves are expected to already exist in the catalog.
		for _, id := range entry.VideoIDs {
			playlist.VideoIDs = append(playlist.VideoIDs, string(id))
		}

		playlists = append(playlists, playlist)
	}

	return playlists, videos, nil
}

func manifestEntries(data []byte) ([]manifestPlaylist, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &FormatError{Doc: "manifest"}
	}

	switch trimmed[0] {
	case '[':
		var entries []manifestPlaylist
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, &FormatError{Doc: "manifest", Err: err}
		}
		return entries, nil
	case '{':
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, &FormatError{Doc: "manifest", Err: err}
		}
		if envelope.Data == nil {
			return nil, &FormatError{Doc: "manifest", Err: fmt.Errorf("missing data array")}
		}
		var entries []manifestPlaylist
		if err := json.Unmarshal(envelope.Data, &entries); err != nil {
			return nil, &FormatError{Doc: "manifest", Err: err}
		}
		return entries, nil
	}

	return nil, &FormatError{Doc: "manifest"}
}

func mapPlaylist(index int, entry manifestPlaylist) (models.Playlist, bool) {
	if entry.ID == "" {
		logger.Log.Warn("Skipping playlist without id", zap.Int("index", index))
		return models.Playlist{}, false
	}

	begin := entry.BeginTime
	if begin == "" {
		begin = entry.StartTime
	}

	start, err := models.ParseTimeOfDay(begin)
	if err != nil {
		logger.Log.Warn("Skipping playlist with bad begin time",
			zap.String("playlistId", string(entry.ID)),
			zap.String("beginTime", begin),
			zap.Error(err))
		return models.Playlist{}, false
	}

	end, err := models.ParseTimeOfDay(entry.EndTime)
	if err != nil {
		logger.Log.Warn("Skipping playlist with bad end time",
			zap.String("playlistId", string(entry.ID)),
			zap.String("endTime", entry.EndTime),
			zap.Error(err))
		return models.Playlist{}, false
	}

	// Playlists the manifest does not flag either way are schedulable.
	active := true
	if entry.Active != nil {
		active = *entry.Active
	}

	return models.Playlist{
		ID:     string(entry.ID),
		Name:   entry.Name,
		Start:  start,
		End:    end,
		Active: active,
		Order:  entry.Order,
	}, true
}

func mapAsset(playlistID string, position int, asset manifestAsset) (models.Video, bool) {
	media := asset.MediaAsset
	if media == nil || media.File == nil {
		logger.Log.Warn("Skipping asset without media file",
			zap.String("playlistId", playlistID),
			zap.Int("position", position))
		return models.Video{}, false
	}

	if media.File.ID == "" || media.File.FilenameDisk == "" || media.FileURL == "" {
		logger.Log.Warn("Skipping asset with incomplete file reference",
			zap.String("playlistId", playlistID),
			zap.Int("position", position),
			zap.String("fileId", string(media.File.ID)))
		return models.Video{}, false
	}

	return models.Video{
		ID:        string(media.File.ID),
		Name:      media.Title,
		RemoteURL: joinURL(media.FileURL, media.File.FilenameDisk),
		Order:     position,
	}, true
}

// joinURL concatenates a base URL and a relative name with exactly one
// joining slash, whatever the source strings carry.
func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(name, "/")
}
