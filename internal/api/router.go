package api

import (
	"fmt"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/internal/ban"
	"github.com/cornchan/cornchan/internal/board"
	"github.com/cornchan/cornchan/internal/store"
	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
)

// Router sets up API routes
type Router struct {
	cfg    *config.ServerConfig
	boards *board.Service
	gate   *ban.Gate
	store  store.Store
	logger *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(cfg *config.ServerConfig, boards *board.Service, gate *ban.Gate, s store.Store) *Router {
	return &Router{
		cfg:    cfg,
		boards: boards,
		gate:   gate,
		store:  s,
		logger: logging.WithComponent("api-router"),
	}
}

// SetupRoutes installs middleware and all routes on engine. Forwarding
// headers are honoured only from the configured trusted proxies, so the ban
// gate sees the socket peer otherwise.
func (r *Router) SetupRoutes(engine *gin.Engine, serviceName string) error {
	if err := engine.SetTrustedProxies(r.cfg.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	engine.MaxMultipartMemory = r.cfg.MaxUploadBytes

	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	engine.Use(cors.New(r.corsConfig()))

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	api := engine.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/boards", r.listBoards)
		api.GET("/boards/:board", r.getBoard)
		api.GET("/boards/:board/threads/:thread_id", r.getThread)

		// read paths are never ban-checked
		posting := api.Group("", limitBody(r.cfg.MaxUploadBytes), BanGate(r.gate))
		posting.POST("/boards/:board/threads", r.createThread)
		posting.POST("/boards/:board/threads/:thread_id/comments", r.createComment)
	}

	if r.cfg.PublicDir != "" {
		engine.Static("/public", r.cfg.PublicDir)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, NewError(http.StatusNotFound, "not found"))
	})

	r.logger.Info("Routes registered",
		zap.String("public_dir", r.cfg.PublicDir),
		zap.Strings("trusted_proxies", r.cfg.TrustedProxies))
	return nil
}

func (r *Router) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
	}
	if len(r.cfg.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = r.cfg.CORSOrigins
	}
	return cfg
}
