package api

import (
	"errors"
	"net/http"

	"smartgarden/auth"
	"smartgarden/internal/web/middleware"
	"smartgarden/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterAuthRoutes(router *gin.Engine, authModule *auth.AuthModule, middlewareManager *middleware.MiddlewareManager) {
	r := router.Group("/api/auth")
	{
		r.POST("/login", func(c *gin.Context) {
			var loginRequest models.LoginRequest
			if err := c.ShouldBindJSON(&loginRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.LoginWithJWT(c.Request.Context(), loginRequest.Username, loginRequest.Password)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
		r.POST("/register", func(c *gin.Context) {
			var registerRequest models.RegisterRequest
			if err := c.ShouldBindJSON(&registerRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.RegisterWithJWT(c.Request.Context(), registerRequest.Username, registerRequest.Password, registerRequest.Email)
			if errors.Is(err, auth.ErrUserExists) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"token": token})
		})
		r.POST("/logout", middlewareManager.RequireAuth(), func(c *gin.Context) {
			if err := authModule.LogoutJWT(c.Request.Context(), c.GetString("token")); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
}
