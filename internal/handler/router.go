// Package handler はステータスサーバーのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// Summary は直近のパス結果の取得元。
	Summary SummaryProvider
	// Gatherer はPrometheusメトリクスの収集元。nilの場合は /metrics を公開しない。
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter はステータスサーバーのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → SecurityHeadersMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	status := NewStatusHandler(deps.Summary)

	r.Get("/health", Health)
	r.Get("/status", status.LastPass)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "エンドポイントが存在しません。")
	})

	return r
}
