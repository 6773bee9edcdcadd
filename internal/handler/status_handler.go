package handler

import (
	"net/http"

	"github.com/adloop/signage-agent-go/internal/catalog"
	"github.com/adloop/signage-agent-go/internal/downloader"
	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/poller"
	"github.com/adloop/signage-agent-go/internal/service"
	"github.com/gin-gonic/gin"
)

// StatusResponse summarizes the agent's current state for operators.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type StatusResponse struct {
	Device      *models.DeviceInfo      `json:"device,omitempty"`
	PollerState string                  `json:"poller_state"`
	Marker      *models.ChangelogMarker `json:"marker,omitempty"`
	LastSync    *models.SyncReport      `json:"last_sync,omitempty"`
	Progress    downloader.Progress     `json:"progress"`
	Videos      int                     `json:"videos"`
	Playlists   int                     `json:"playlists"`
}

// StatusHandler reports the agent's sync and catalog state.
type StatusHandler struct {
	catalog     *catalog.Catalog
	poller      *poller.Poller
	syncService *service.SyncService
}

// NewStatusHandler creates a new StatusHandler instance.
func NewStatusHandler(cat *catalog.Catalog, p *poller.Poller, syncService *service.SyncService) *StatusHandler {
	return &StatusHandler{
		catalog:     cat,
		poller:      p,
		syncService: syncService,
	}
}

// Status returns the device registration, poller state, changelog marker and
// the last sync report.
func (h *StatusHandler) Status(c *gin.Context) {
	snap := h.catalog.Snapshot()

	resp := StatusResponse{
		Device:      snap.Device,
		PollerState: string(h.poller.State()),
		LastSync:    h.syncService.LastReport(),
		Progress:    h.syncService.Progress(),
		Videos:      len(snap.Videos),
		Playlists:   len(snap.Playlists),
	}
	if !snap.Marker.IsZero() {
		marker := snap.Marker
		resp.Marker = &marker
	}

	c.JSON(http.StatusOK, resp)
}
