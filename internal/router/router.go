// Package router wires HTTP routes onto the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/peakform/coaching-platform/internal/handler"
	"github.com/peakform/coaching-platform/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth mounts the credential endpoints under /auth plus the
// protected identity routes. The rate limiter wraps the whole group so
// password guessing and token probing share one budget per client.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	// Federated login routes are mounted only when Google credentials are
	// configured.
	if a.Google != nil {
		g.GET("/google/login", a.GoogleLogin)
		g.GET("/google/callback", a.GoogleCallback)
	}

	// Routes that require a valid access token.
	auth := e.Group("")
	auth.Use(middleware.JWTAuth(a.Cfg.JWTSecret, a.Cfg.JWTAlgorithm))
	auth.Use(middleware.RequireRole("CLIENT", "COACH"))
	auth.GET("/me", a.Me)
	auth.POST("/logout-all", a.LogoutAll)
}
