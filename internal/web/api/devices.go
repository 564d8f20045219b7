package api

import (
	"context"
	"net/http"

	"smartgarden/internal/models"
	"smartgarden/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// DeviceLister lists the devices of an operator
type DeviceLister interface {
	ListDevices(ctx context.Context, userID string) ([]models.Device, error)
}

func RegisterDeviceRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, devices DeviceLister) {
	group := r.Group("/api/devices")
	group.Use(middleware.RequireAuth())
	{
		group.GET("", func(c *gin.Context) {
			list, err := devices.ListDevices(c.Request.Context(), c.GetString("user_id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, list)
		})
	}
}
