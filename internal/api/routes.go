package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/irfndi/correlation-regime-go/internal/api/handlers"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/middleware"
)

// RouteDeps are the handlers and middleware the router mounts. Cache may be
// nil when the analysis cache is disabled.
type RouteDeps struct {
	Analysis       *handlers.AnalysisHandler
	Cache          *handlers.CacheHandler
	Health         *handlers.HealthHandler
	Auth           *middleware.AuthMiddleware
	Logger         *logging.StandardLogger
	ServiceName    string
	AllowedOrigins []string
}

// NewRouter builds the gin engine with tracing, request logging and all routes.
func NewRouter(deps RouteDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(deps.ServiceName))
	router.Use(middleware.RequestTelemetry(deps.Logger, "/health", "/metrics"))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps RouteDeps) {
	router.GET("/health", deps.Health.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	analysis := v1.Group("/analysis", deps.Auth.RequireAuth())
	{
		analysis.GET("", deps.Analysis.GetAnalysis)
		analysis.POST("/correlation", deps.Analysis.ComputeCorrelation)
		analysis.POST("/rmt", deps.Analysis.ComputeRMT)
		analysis.POST("/sentiment-adjusted", deps.Analysis.ComputeSentimentAdjusted)
		analysis.POST("/inference", deps.Analysis.ComputeInference)

		if deps.Cache != nil {
			analysis.GET("/cache/stats", deps.Cache.GetCacheStats)
			analysis.DELETE("/cache", deps.Auth.RequireScope(middleware.ScopeAdmin), deps.Cache.ClearCache)
		}
	}
}
