package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/internal/poller"
	"github.com/adloop/signage-agent-go/internal/remote"
	"github.com/adloop/signage-agent-go/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SyncHandler triggers manual sync runs.
type SyncHandler struct {
	poller *poller.Poller
}

// NewSyncHandler creates a new SyncHandler instance.
func NewSyncHandler(p *poller.Poller) *SyncHandler {
	return &SyncHandler{
		poller: p,
	}
}

// TriggerSync runs a full sync immediately, outside the polling schedule. The
// call blocks until the sync finishes and returns its report. While another
// sync is running it answers 409 without starting anything.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	logger.Log.Info("Manual sync requested",
		zap.String("sourceIp", c.ClientIP()),
	)

	report, err := h.poller.Refresh(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *SyncHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, poller.ErrSyncInProgress):
		logger.Log.Warn("Manual sync rejected, already running",
			zap.String("path", c.Request.URL.Path),
		)
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Status:    http.StatusConflict,
			Error:     "Conflict",
			Message:   "A sync is already in progress",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
	case remote.IsTransport(err):
		logger.Log.Warn("Manual sync failed, backend unreachable",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Status:    http.StatusBadGateway,
			Error:     "Bad Gateway",
			Message:   "Remote backend unreachable: " + err.Error(),
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
	default:
		logger.Log.Error("Manual sync failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Status:    http.StatusInternalServerError,
			Error:     "Internal Server Error",
			Message:   "Sync failed: " + err.Error(),
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
	}
}
