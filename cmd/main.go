package main

import (
	"fmt"
	"os"
	"time"

	"github.com/radvis/radvis-backend/internal/cache"
	"github.com/radvis/radvis-backend/internal/clients/convert"
	"github.com/radvis/radvis-backend/internal/clients/gcs"
	"github.com/radvis/radvis-backend/internal/clients/inference"
	"github.com/radvis/radvis-backend/internal/db"
	"github.com/radvis/radvis-backend/internal/handlers"
	"github.com/radvis/radvis-backend/internal/ingest"
	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/middleware"
	"github.com/radvis/radvis-backend/internal/repos"
	"github.com/radvis/radvis-backend/internal/server"
	"github.com/radvis/radvis-backend/internal/sse"
	"github.com/radvis/radvis-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	scratchDir := utils.GetEnv("SCRATCH_DIR", os.TempDir(), log)
	workerConcurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", ingest.DefaultConcurrency, log)
	idleTTLMinutes := utils.GetEnvAsInt("QUEUE_IDLE_TTL_MINUTES", 30, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	patientRepo := repos.NewPatientRepo(thePG, log)
	xrayRepo := repos.NewXrayRepo(thePG, log)
	xrayAbnormalityRepo := repos.NewXrayAbnormalityRepo(thePG, log)

	// SSE
	log.Info("Setting up SSE hub now...")
	sseHub := sse.NewHub(log)

	// Clients
	log.Info("Setting up external clients from main...")
	bucketService, err := gcs.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	convertClient, err := convert.NewClient(log)
	if err != nil {
		log.Error("Could not init convert client", "error", err)
		os.Exit(1)
	}
	inferenceClient, err := inference.NewClient(log)
	if err != nil {
		log.Error("Could not init inference client", "error", err)
		os.Exit(1)
	}
	invalidator, err := cache.NewRedisInvalidator(log)
	if err != nil {
		log.Error("Could not init redis invalidator", "error", err)
		os.Exit(1)
	}
	defer invalidator.Close()

	// Ingest
	log.Info("Setting up ingest pipeline from main...")
	annotator, err := ingest.NewAnnotator(log)
	if err != nil {
		log.Warn("Annotator init failed, overlays disabled", "error", err)
	}
	pipeline := ingest.NewPipeline(
		log,
		thePG,
		bucketService,
		convertClient,
		inferenceClient,
		patientRepo,
		xrayRepo,
		xrayAbnormalityRepo,
		annotator,
	)
	directory := ingest.NewDirectory(
		log,
		sseHub,
		pipeline,
		ingest.WithConcurrency(workerConcurrency),
		ingest.WithIdleTTL(time.Duration(idleTTLMinutes)*time.Minute),
	)
	defer directory.Close()

	// Handlers
	log.Info("Setting up handlers from main...")
	xrayHandler := handlers.NewXrayHandler(log, directory, sseHub, invalidator, scratchDir)
	eventsHandler := handlers.NewEventsHandler(log, sseHub)

	// Middleware
	log.Info("Setting up middleware from main...")
	doctorMiddleware := middleware.NewDoctorMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		XrayHandler:      xrayHandler,
		EventsHandler:    eventsHandler,
		DoctorMiddleware: doctorMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
