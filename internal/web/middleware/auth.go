package middleware

import (
	"errors"
	"net/http"
	"strings"

	"smartgarden/auth"
	"smartgarden/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// DeviceKeyHeader carries a device's api key on heartbeat calls
const DeviceKeyHeader = "X-Device-Key"

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return token
	}
	if h != "" {
		return h
	}
	// browsers cannot set headers on websocket upgrades
	return c.Query("token")
}

func (m *MiddlewareManager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := m.auth.ValidateTokenJWT(c.Request.Context(), bearer(c))
		if err != nil {
			log.Debug().Err(err).Str("component", "http").Msg("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set("user_id", userID)
		c.Set("token", bearer(c))

		c.Next()
	}
}

// RequireDeviceKey checks the device api key of the :deviceId in the path
func (m *MiddlewareManager) RequireDeviceKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		hash, err := m.devices.DeviceKeyHash(c.Request.Context(), deviceID)
		switch {
		case errors.Is(err, models.ErrDeviceNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "message": "Device not found"})
			return
		case err != nil:
			log.Error().Err(err).Str("device_id", deviceID).Msg("device key lookup failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Server error"})
			return
		}
		if !auth.VerifyDeviceKey(hash, c.GetHeader(DeviceKeyHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid device key"})
			return
		}
		c.Next()
	}
}
