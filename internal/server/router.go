package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/radvis/radvis-backend/internal/handlers"
	"github.com/radvis/radvis-backend/internal/middleware"
)

type RouterConfig struct {
	XrayHandler      *handlers.XrayHandler
	EventsHandler    *handlers.EventsHandler
	DoctorMiddleware *middleware.DoctorMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", middleware.DoctorHeader},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// SSE sessions are anonymous until the first upload ties one to an
		// owner, so the stream itself is public.
		api.GET("/events/stream", cfg.EventsHandler.Stream)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := api.Group("/")
	protected.Use(cfg.DoctorMiddleware.RequireDoctor())
	protected.POST("/xrays/dicom/uploadMultiple", cfg.XrayHandler.UploadMultiple)

	return router
}
