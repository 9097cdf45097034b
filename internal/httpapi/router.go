package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatdock/internal/ratelimit"
)

type RouterConfig struct {
	APIPrefix   string
	HealthPath  string
	MetricsPath string
	CORSOrigins []string
	Limiter     *ratelimit.Limiter // nil disables throttling
}

func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(countRequests(h.Metrics))

	// Plain liveness path for probes, metrics for scraping.
	r.GET(cfg.HealthPath, func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.GET("/health", h.Health)

	authed := api.Group("")
	authed.Use(Auth())
	if cfg.Limiter != nil {
		authed.Use(RateLimit(cfg.Limiter, h.Metrics, h.Logger))
	}

	folders := authed.Group("/folders")
	{
		folders.GET("", h.ListFolders)
		folders.POST("", h.CreateFolder)
		folders.GET("/:id", h.GetFolder)
		folders.PUT("/:id", h.UpdateFolder)
		folders.DELETE("/:id", h.DeleteFolder)
	}

	threads := authed.Group("/chat-threads")
	{
		threads.GET("", h.ListThreads)
		threads.POST("", h.CreateThread)
		threads.GET("/:id", h.GetThread)
		threads.PUT("/:id", h.UpdateThread)
		threads.DELETE("/:id", h.DeleteThread)
	}

	return r
}
