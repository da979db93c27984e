package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/neurostuff/neurostore-go/internal/handlers"
	"github.com/neurostuff/neurostore-go/internal/middleware"
	"github.com/neurostuff/neurostore-go/internal/resources"
)

type StoreRouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	Resources         map[string]*handlers.ResourceHandler
	AnnotationHandler *handlers.AnnotationHandler
}

type ComposeRouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	Resources      map[string]*handlers.ResourceHandler
	ComposeHandler *handlers.ComposeHandler
}

func newBaseRouter(serviceName string) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.AttachTraceContext())

	origins := []string{
		"http://localhost:80",
		"http://localhost:3000",
	}
	if env := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS")); env != "" {
		origins = strings.Split(env, ",")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	return router
}

// NewStoreRouter mounts the data-store API. Reads are open (with optional
// identity for private-record visibility), writes require a token.
func NewStoreRouter(cfg StoreRouterConfig) *gin.Engine {
	router := newBaseRouter("neurostore")
	router.GET("/healthcheck", handlers.HealthCheck)

	public := router.Group("/api")
	public.Use(cfg.AuthMiddleware.OptionalAuth())
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	for path, h := range cfg.Resources {
		h.Register(public, protected, path)
	}
	cfg.AnnotationHandler.Register(public)

	return router
}

// NewComposeRouter mounts the workflow API. Projects and results have custom
// POST handlers; everything else is uniform CRUD.
func NewComposeRouter(cfg ComposeRouterConfig) *gin.Engine {
	router := newBaseRouter("neurosynth-compose")
	router.GET("/healthcheck", handlers.HealthCheck)

	public := router.Group("/api")
	public.Use(cfg.AuthMiddleware.OptionalAuth())
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	customPost := map[string]bool{
		"projects":              true,
		"meta-analysis-results": true,
	}
	for path, h := range cfg.Resources {
		if customPost[path] {
			public.GET("/"+path, h.List)
			public.GET("/"+path+"/:id", h.Get)
			protected.PUT("/"+path+"/:id", h.Put)
			protected.DELETE("/"+path+"/:id", h.Delete)
			continue
		}
		h.Register(public, protected, path)
	}
	cfg.ComposeHandler.Register(protected)

	return router
}

// StoreResourcePaths maps URL segments to entity kinds for the data-store
// service.
func StoreResourcePaths() map[string]resources.Kind {
	return map[string]resources.Kind{
		"studies":     resources.KindStudy,
		"analyses":    resources.KindAnalysis,
		"conditions":  resources.KindCondition,
		"images":      resources.KindImage,
		"points":      resources.KindPoint,
		"studysets":   resources.KindStudyset,
		"annotations": resources.KindAnnotation,
	}
}

// ComposeResourcePaths maps URL segments to entity kinds for the workflow
// service.
func ComposeResourcePaths() map[string]resources.Kind {
	return map[string]resources.Kind{
		"projects":              resources.KindProject,
		"meta-analyses":         resources.KindMetaAnalysis,
		"specifications":        resources.KindSpecification,
		"studyset-references":   resources.KindStudysetReference,
		"annotation-references": resources.KindAnnotationReference,
		"studysets":             resources.KindCachedStudyset,
		"annotations":           resources.KindCachedAnnotation,
		"meta-analysis-results": resources.KindMetaAnalysisResult,
		"neurovault-collections": resources.KindNeurovaultCollection,
		"neurovault-files":      resources.KindNeurovaultFile,
		"neurostore-studies":    resources.KindNeurostoreStudy,
		"neurostore-analyses":   resources.KindNeurostoreAnalysis,
	}
}
