package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatline/internal/config"
)

// SetupRoutes builds the gin engine with every application route.
func SetupRoutes(h *Handlers, origins *config.OriginPolicy, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(cors.New(corsConfig(origins)))

	router.GET("/healthz", h.Health)
	router.GET("/ws", h.WebSocket)
	router.GET("/uploads/:name", h.ServeUpload)

	api := router.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.GET("/messages", h.ListMessages)
	api.GET("/statuses", h.ListStatuses)

	authed := api.Group("", RequireAuth(h.tokens))
	authed.POST("/messages", h.PostMessage)
	authed.POST("/upload-profile", h.UploadProfile)
	authed.POST("/status", h.PostStatus)

	return router
}

func corsConfig(origins *config.OriginPolicy) cors.Config {
	cfg := cors.DefaultConfig()
	if origins.AllowAll() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins.List()
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Content-Type", "Authorization", "Accept"}
	return cfg
}
