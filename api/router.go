package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"soraq/config"
)

func SetupRouter(cfg *config.Config, h *Handler) *gin.Engine {
	r := gin.Default()

	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		}))
	}
	r.Use(SessionMiddleware(cfg))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/ws", h.handleWS)

	// Pass-through to the provider. The caller's credential travels in the
	// request body and is never stored.
	proxy := r.Group("/api")
	{
		proxy.POST("/generate", h.handleGenerate)
		proxy.POST("/video/:id", h.handleVideoStatus)
		proxy.DELETE("/video/:id", h.handleDeleteVideo)
		proxy.POST("/download/:id", h.handleDownload)
		proxy.POST("/videos", h.handleListVideos)
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/credential", h.handleGetCredential)
		v1.PUT("/credential", h.handleSetCredential)
		v1.DELETE("/credential", h.handleClearCredential)

		v1.GET("/queue", h.handleListQueue)
		v1.POST("/queue", h.handleEnqueue)
		v1.POST("/queue/clear", h.handleClearQueue)
		v1.POST("/queue/:id/move", h.handleMoveItem)
		v1.POST("/queue/:id/confirm", h.handleConfirmItem)
		v1.DELETE("/queue/:id", h.handleRemoveItem)
		v1.GET("/status", h.handleStatus)

		v1.GET("/usage", h.handleGetUsage)
		v1.DELETE("/usage", h.handleResetUsage)
		v1.GET("/usage/log", h.handleUsageLog)

		v1.GET("/pricing", h.handlePricing)
		v1.GET("/cost", h.handleCost)
		v1.GET("/history", h.handleHistory)
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
