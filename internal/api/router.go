package api

import (
	"net/http"

	"mediarepo/internal/config"
	mrmiddleware "mediarepo/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, mediaHandler *MediaHandler, fedHandler *FederationHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(mrmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(mrmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow, "/healthz", "/metrics"))
	r.Use(mrmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	// 联邦面只受特性开关门控，请求签名校验是外部协作方的事
	if fedHandler != nil {
		fedHandler.RegisterRoutes(r)
	}

	if mediaHandler != nil {
		if cfg.AuthEnabled {
			// 客户端媒体面需要鉴权
			r.Group(func(r chi.Router) {
				r.Use(mrmiddleware.BearerAuth(cfg.AuthJWKSURL, cfg.AuthJWTSecret, logger))
				mediaHandler.RegisterRoutes(r)
			})
		} else {
			// 无需鉴权（开发模式）
			mediaHandler.RegisterRoutes(r)
		}
	}

	return r
}
