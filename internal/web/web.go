package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"smartgarden/auth"
	"smartgarden/internal/realtime"
	"smartgarden/internal/web/api"
	"smartgarden/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Dependencies are the collaborators the HTTP surface is built on
type Dependencies struct {
	Engine  api.ControlEngine
	Auth    *auth.AuthModule
	Devices interface {
		api.DeviceLister
		middleware.DeviceKeys
	}
	Hub *realtime.Hub
}

type WebServer struct {
	router *gin.Engine
	srv    *http.Server
}

func NewWebServer(addr string, deps Dependencies) *WebServer {
	router := gin.New()
	middleware.SetupMiddleware(router)

	middlewareManager := middleware.NewMiddlewareManager(deps.Auth, deps.Devices)

	api.RegisterAuthRoutes(router, deps.Auth, middlewareManager)
	api.RegisterDeviceRoutes(router, middlewareManager, deps.Devices)
	api.RegisterControlRoutes(router, middlewareManager, deps.Engine)
	api.RegisterRealtimeRoutes(router, middlewareManager, deps.Hub)

	return &WebServer{
		router: router,
		srv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the router for tests and custom servers
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown
func (ws *WebServer) Start() error {
	log.Info().Str("component", "http").Str("addr", ws.srv.Addr).Msg("http server listening")
	if err := ws.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}
