package server

import (
	"github.com/GoPolymarket/reqlog/internal/config"
	"github.com/GoPolymarket/reqlog/internal/handler"
	"github.com/GoPolymarket/reqlog/internal/middleware"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/GoPolymarket/reqlog/internal/service"
	"github.com/GoPolymarket/reqlog/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const adminPrefix = "/admin/"

type Deps struct {
	Config *config.Config
	Store  *reqctx.Store
	Logs   *service.RequestLogService
	Hub    *stream.Hub // nil disables the live tail
}

// NewRouter wires the request log middleware in front of every route.
// Order: Recovery -> RequestLog -> ErrorHandler -> Metrics, so rendered
// errors are part of the captured response and panics still reach Recovery.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config

	r := gin.New()
	// gin trusts every peer by default, which lets any caller pick the logged ip
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(contextStore(d.Store), sink(d.Logs), requestLogOptions(cfg)...))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	// Health Check
	r.GET("/health", handler.Health)

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	if cfg.Server.StaticDir != "" {
		r.Static("/static", cfg.Server.StaticDir)
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/echo", handler.Echo)
		v1.POST("/echo", handler.Echo)
	}

	logsHandler := handler.NewRequestLogHandler(d.Logs, d.Hub)
	admin := r.Group("/admin")
	admin.Use(middleware.RateLimitMiddleware(middleware.NewKeyedLimiter(cfg.Admin.RatePerSecond, cfg.Admin.Burst)))
	admin.Use(middleware.AdminMiddleware(cfg.Admin.Key))
	{
		admin.GET("/request-logs", logsHandler.List)
		admin.GET("/request-logs/stream", logsHandler.Stream)
	}

	return r
}

// typed nils must not reach the middleware as non-nil interfaces
func contextStore(s *reqctx.Store) middleware.ContextStore {
	if s == nil {
		return nil
	}
	return s
}

func sink(s *service.RequestLogService) middleware.Sink {
	if s == nil {
		return nil
	}
	return s
}

func requestLogOptions(cfg *config.Config) []middleware.RequestLogOption {
	// admin traffic and scrapes would otherwise log themselves
	exclude := append([]string{}, cfg.RequestLog.ExcludePrefixes...)
	exclude = append(exclude, adminPrefix)
	if cfg.Metrics.Enabled && cfg.Metrics.Path != "" {
		exclude = append(exclude, cfg.Metrics.Path)
	}

	return []middleware.RequestLogOption{
		middleware.WithCategory(cfg.RequestLog.Category),
		middleware.WithExcludePrefixes(exclude...),
		middleware.WithMaxBodyBytes(cfg.RequestLog.MaxBodyBytes),
		middleware.WithFallbackLogger(logger.With("component", "requestlog")),
	}
}
