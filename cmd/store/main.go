package main

import (
	"context"
	"fmt"
	"os"

	"github.com/neurostuff/neurostore-go/internal/db"
	"github.com/neurostuff/neurostore-go/internal/handlers"
	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/middleware"
	"github.com/neurostuff/neurostore-go/internal/observability"
	"github.com/neurostuff/neurostore-go/internal/resources"
	"github.com/neurostuff/neurostore-go/internal/server"
	"github.com/neurostuff/neurostore-go/internal/services"
	"github.com/neurostuff/neurostore-go/internal/utils"
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

	// Tracing
	if stop := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "neurostore",
		Environment: logMode,
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	}); stop != nil {
		defer stop(context.Background())
	}

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateStore(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Services
	log.Info("Setting up services from main...")
	annotationService := services.NewAnnotationService(log)
	authService := services.NewAuthService(thePG, log, jwtSecretKey)

	// Resource engine
	registry := resources.NewStoreRegistry(annotationService)
	engine := resources.NewEngine(thePG, log, registry)

	// Handlers
	log.Info("Setting up handlers from main...")
	resourceHandlers := map[string]*handlers.ResourceHandler{}
	for path, kind := range server.StoreResourcePaths() {
		resourceHandlers[path] = handlers.NewResourceHandler(log, engine, authService, kind)
	}
	annotationHandler := handlers.NewAnnotationHandler(log, engine, authService, annotationService)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewStoreRouter(server.StoreRouterConfig{
		AuthMiddleware:    authMiddleware,
		Resources:         resourceHandlers,
		AnnotationHandler: annotationHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
