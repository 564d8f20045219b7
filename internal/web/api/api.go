package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"smartgarden/internal/engine"
	"smartgarden/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ControlEngine is the part of the engine the HTTP surface drives
type ControlEngine interface {
	HandleHeartbeat(ctx context.Context, deviceID string, snap models.SensorSnapshot) ([]*models.Control, error)
	ActivateManual(ctx context.Context, id, userID string, intensity, duration int) (*models.Control, error)
	DeactivateManual(ctx context.Context, id, userID string) (*models.Control, error)
	CreateControl(ctx context.Context, userID string, c *models.Control) (*models.Control, error)
	UpdateControl(ctx context.Context, id, userID string, in *models.Control) (*models.Control, error)
	DeleteControl(ctx context.Context, id, userID string) error
	ListDeviceControls(ctx context.Context, deviceID, userID string) ([]*models.Control, error)
	History(ctx context.Context, id, userID string, limit, offset int) ([]models.ExecutionRecord, error)
	NextRuns(ctx context.Context, c *models.Control) map[string]time.Time
}

// respondError maps engine errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrControlNotFound), errors.Is(err, models.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidControl):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrStoreUnavailable):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
