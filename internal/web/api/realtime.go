package api

import (
	"net/http"

	"smartgarden/internal/realtime"
	"smartgarden/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRealtimeRoutes exposes the per-user notification stream
func RegisterRealtimeRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, hub *realtime.Hub) {
	r.GET("/ws", middleware.RequireAuth(), func(c *gin.Context) {
		hub.Serve(c.Writer, c.Request, c.GetString("user_id"))
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
