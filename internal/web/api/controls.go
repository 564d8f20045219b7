package api

import (
	"net/http"
	"strconv"

	"smartgarden/internal/automation"
	"smartgarden/internal/models"
	"smartgarden/internal/utils"
	"smartgarden/internal/web/middleware"
	webModels "smartgarden/internal/web/models"

	"github.com/gin-gonic/gin"
)

const maxHistoryLimit = 200

func RegisterControlRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, engine ControlEngine) {
	controls := r.Group("/api/controls")

	// embedded devices poll this with their latest readings
	controls.GET("/esp/:deviceId", middleware.RequireDeviceKey(), func(c *gin.Context) {
		deviceID := c.Param("deviceId")

		var snap models.SensorSnapshot
		if raw := c.Query("telemetry"); raw != "" {
			parsed, err := automation.ParseTelemetry([]byte(raw))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid telemetry"})
				return
			}
			snap = parsed
		}

		list, err := engine.HandleHeartbeat(c.Request.Context(), deviceID, snap)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, webModels.HeartbeatResponse{
			Success:  true,
			DeviceID: deviceID,
			Controls: heartbeatStates(list),
		})
	})

	authed := controls.Group("")
	authed.Use(middleware.RequireAuth())
	{
		authed.GET("/device/:deviceId", func(c *gin.Context) {
			list, err := engine.ListDeviceControls(c.Request.Context(), c.Param("deviceId"), c.GetString("user_id"))
			if err != nil {
				respondError(c, err)
				return
			}
			out := make([]webModels.ControlResponse, 0, len(list))
			for _, ctl := range list {
				out = append(out, withNextRuns(c, engine, ctl))
			}
			c.JSON(http.StatusOK, out)
		})

		authed.POST("", func(c *gin.Context) {
			var in models.Control
			if err := c.ShouldBindJSON(&in); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			created, err := engine.CreateControl(c.Request.Context(), c.GetString("user_id"), &in)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, withNextRuns(c, engine, created))
		})

		authed.PUT("/:id", func(c *gin.Context) {
			var in models.Control
			if err := c.ShouldBindJSON(&in); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			updated, err := engine.UpdateControl(c.Request.Context(), c.Param("id"), c.GetString("user_id"), &in)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, withNextRuns(c, engine, updated))
		})

		authed.DELETE("/:id", func(c *gin.Context) {
			if err := engine.DeleteControl(c.Request.Context(), c.Param("id"), c.GetString("user_id")); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})

		authed.POST("/:id/activate", func(c *gin.Context) {
			var req webModels.ActivateRequest
			if c.Request.ContentLength != 0 {
				if err := c.ShouldBindJSON(&req); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
					return
				}
			}
			intensity := 100
			if req.Intensity != nil {
				intensity = *req.Intensity
			}
			ctl, err := engine.ActivateManual(c.Request.Context(), c.Param("id"), c.GetString("user_id"), intensity, req.Duration)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, ctl)
		})

		authed.POST("/:id/deactivate", func(c *gin.Context) {
			ctl, err := engine.DeactivateManual(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, ctl)
		})

		authed.GET("/:id/history", func(c *gin.Context) {
			page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
			limitIn, _ := strconv.Atoi(c.Query("limit"))
			limit, offset := utils.Paginate(page, limitIn, maxHistoryLimit)

			recs, err := engine.History(c.Request.Context(), c.Param("id"), c.GetString("user_id"), limit, offset)
			if err != nil {
				respondError(c, err)
				return
			}
			if recs == nil {
				recs = []models.ExecutionRecord{}
			}
			if page < 1 {
				page = 1
			}
			c.JSON(http.StatusOK, webModels.HistoryResponse{
				ControlID: c.Param("id"),
				Page:      page,
				Limit:     limit,
				Records:   recs,
			})
		})
	}
}

func withNextRuns(c *gin.Context, engine ControlEngine, ctl *models.Control) webModels.ControlResponse {
	resp := webModels.ControlResponse{Control: ctl}
	if ctl.Mode == models.ModeScheduled {
		resp.NextRuns = engine.NextRuns(c.Request.Context(), ctl)
	}
	return resp
}

// heartbeatStates keys the device's controls by type. When several controls
// share a type, one that is on wins, then the lowest id.
func heartbeatStates(list []*models.Control) map[string]webModels.ControlState {
	picked := make(map[models.ControlType]*models.Control, len(list))
	for _, ctl := range list {
		cur, ok := picked[ctl.ControlType]
		if !ok || preferForHeartbeat(ctl, cur) {
			picked[ctl.ControlType] = ctl
		}
	}

	out := make(map[string]webModels.ControlState, len(picked))
	for typ, ctl := range picked {
		out[string(typ)] = webModels.ControlState{
			ControlID: ctl.ID,
			Mode:      ctl.Mode,
			Status:    ctl.Status,
			IsOn:      ctl.CurrentState.IsOn,
			Intensity: ctl.CurrentState.Intensity,
		}
	}
	return out
}

func preferForHeartbeat(a, b *models.Control) bool {
	if a.CurrentState.IsOn != b.CurrentState.IsOn {
		return a.CurrentState.IsOn
	}
	return a.ID < b.ID
}
