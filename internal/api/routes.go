package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/hnsresolve/internal/api/handlers"
	"github.com/jroosing/hnsresolve/internal/api/middleware"
	"github.com/jroosing/hnsresolve/internal/config"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/config", h.GetConfig)
	api.PUT("/config", h.PutConfig)
	api.POST("/config/reload", h.ReloadConfig)

	api.POST("/filtering/whitelist", h.AddWhitelist)
	api.DELETE("/filtering/whitelist", h.RemoveWhitelist)

	api.POST("/filtering/blacklist", h.AddBlacklist)
	api.DELETE("/filtering/blacklist", h.RemoveBlacklist)

	api.GET("/filtering/stats", h.FilteringStats)
	api.PUT("/filtering/enabled", h.SetFilteringEnabled)

	// Handshake peer registry and DANE verification.
	api.GET("/handshake/peers", h.ListPeers)
	api.GET("/handshake/cache/stats", h.CacheStats)
	api.POST("/handshake/dane-check", h.DANECheck)
}
