package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/auth"
	"github.com/your-org/sentinel/internal/hub"
	"github.com/your-org/sentinel/internal/notify"
	"github.com/your-org/sentinel/internal/storage"
)

type RouterConfig struct {
	APIKey    string
	DB        *storage.PostgresStore
	Images    *storage.ImageStore
	Service   *hub.Service
	Publisher *notify.Publisher
	Feed      *ws.Feed
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Images, cfg.Publisher)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket anomaly feed
	v1.GET("/ws", cfg.Feed.HandleWS)

	// Ingestion
	ingestH := handlers.NewIngestHandler(cfg.Service)
	v1.POST("/ingest", ingestH.Ingest)
	v1.POST("/events/with-recognition", ingestH.AttachRecognition)
	v1.POST("/events/evaluated", ingestH.MarkEvaluated)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.Images)
	v1.GET("/events", eventH.List)
	v1.GET("/events/latest-timestamp", eventH.LatestTimestamp)
	v1.GET("/events/unevaluated", eventH.Unevaluated)
	v1.GET("/events/for-recognition", eventH.ForRecognition)
	v1.GET("/events/for-media", eventH.ForMedia)
	v1.POST("/events/with-media", eventH.WithMedia)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/image", eventH.GetImage)

	// Persons
	personH := handlers.NewPersonHandler(cfg.DB, cfg.Service)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.POST("/persons/:id/merge", personH.Merge)

	// Rules
	ruleH := handlers.NewRuleHandler(cfg.DB)
	v1.POST("/rules", ruleH.Create)
	v1.GET("/rules", ruleH.List)
	v1.PATCH("/rules/:id/enabled", ruleH.SetEnabled)

	// Reports
	reportH := handlers.NewReportHandler(cfg.DB, cfg.Feed)
	v1.POST("/reports", reportH.Create)
	v1.GET("/reports", reportH.List)
	v1.PATCH("/reports/:id/status", reportH.SetStatus)

	return r
}
