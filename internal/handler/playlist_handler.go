package handler

import (
	"net/http"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// CurrentPlaylistResponse is what the player polls. When nothing is scheduled
// for the current wall-clock time Playing is false and the other fields are
// omitted.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type CurrentPlaylistResponse struct {
	Playing  bool             `json:"playing"`
	Playlist *models.Playlist `json:"playlist,omitempty"`
	Videos   []models.Video   `json:"videos,omitempty"`
	Paths    []string         `json:"paths,omitempty"`
}

// PlaylistHandler serves playback schedule lookups.
type PlaylistHandler struct {
	scheduler *scheduler.Service
	catalog   *catalog.Catalog
}

// NewPlaylistHandler creates a new PlaylistHandler instance.
func NewPlaylistHandler(sched *scheduler.Service, cat *catalog.Catalog) *PlaylistHandler {
	return &PlaylistHandler{
		scheduler: sched,
		catalog:   cat,
	}
}

// Current returns the playlist scheduled for the current wall-clock time with
// the local file paths the player should loop over.
func (h *PlaylistHandler) Current(c *gin.Context) {
	sel := h.scheduler.Current()
	if sel == nil {
		c.JSON(http.StatusOK, CurrentPlaylistResponse{Playing: false})
		return
	}

	playlist := sel.Playlist
	c.JSON(http.StatusOK, CurrentPlaylistResponse{
		Playing:  true,
		Playlist: &playlist,
		Videos:   sel.Videos,
		Paths:    sel.Paths,
	})
}

// Videos lists the catalog with per-video download state.
func (h *PlaylistHandler) Videos(c *gin.Context) {
	videos := h.catalog.Videos()

	c.JSON(http.StatusOK, gin.H{
		"videos": videos,
		"count":  len(videos),
	})
}
