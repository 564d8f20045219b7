package middleware

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// TokenValidator resolves an operator token to a user id
type TokenValidator interface {
	ValidateTokenJWT(ctx context.Context, token string) (string, error)
}

// DeviceKeys looks up the stored key hash of a device
type DeviceKeys interface {
	DeviceKeyHash(ctx context.Context, deviceID string) (string, error)
}

type MiddlewareManager struct {
	auth    TokenValidator
	devices DeviceKeys
}

func NewMiddlewareManager(auth TokenValidator, devices DeviceKeys) *MiddlewareManager {
	return &MiddlewareManager{
		auth:    auth,
		devices: devices,
	}
}

// SetupMiddleware configures the middleware stack for the Gin router
func SetupMiddleware(r *gin.Engine) {
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", DeviceKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// RequestLogger returns a Gin middleware for logging requests
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		logEvent := log.Info()
		if statusCode >= 400 {
			logEvent = log.Warn()
		}
		if statusCode >= 500 {
			logEvent = log.Error()
		}

		// query strings carry tokens and telemetry; only the path is logged
		logEvent.
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
