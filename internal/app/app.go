// Package app は設定の読み込みから各コンポーネントの組み立て、
// サブコマンドの実行までのアプリケーション起動処理を提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/pawsquest/internal/config"
	"github.com/hitoshi/pawsquest/internal/handler"
	"github.com/hitoshi/pawsquest/internal/identity"
	"github.com/hitoshi/pawsquest/internal/logger"
	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/pacing"
	"github.com/hitoshi/pawsquest/internal/pawsapi"
	"github.com/hitoshi/pawsquest/internal/security"
	"github.com/hitoshi/pawsquest/internal/useragent"
	"github.com/hitoshi/pawsquest/internal/worker/quest"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、設定に従って構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info", "json")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルと形式でログを再構成する
	logger.SetupDefault(w, cfg.LogLevel, cfg.LogFormat)

	return cfg, nil
}

// Components は起動時に組み立てたコンポーネント群。
type Components struct {
	Orchestrator *quest.Orchestrator
	Scheduler    *quest.Scheduler
	Registry     *prometheus.Registry
	Accounts     int
	UserAgents   int
}

// Build は設定から全依存関係をワイヤリングする。
// 入力ファイルの読み込みに失敗した場合や、内容が空の場合はエラーを返す。
func Build(cfg *config.Config, log *slog.Logger) (*Components, error) {
	// 1. 入力ファイルの読み込み
	identities, err := identity.Load(cfg.QueryIDFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load identities: %w", err)
	}

	agents, err := useragent.Load(cfg.UserAgentFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load user agents: %w", err)
	}

	// 2. HTTPクライアントの初期化
	if cfg.SafeDial && cfg.ProxyURL == "" {
		if err := security.ValidateURL(cfg.APIBaseURL); err != nil {
			return nil, fmt.Errorf("unsafe API base URL: %w", err)
		}
	}

	httpClient, err := security.NewHTTPClient(security.ClientOptions{
		Timeout:  cfg.HTTPTimeout,
		ProxyURL: cfg.ProxyURL,
		SafeDial: cfg.SafeDial,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. APIクライアントの初期化
	opts := []pawsapi.Option{pawsapi.WithMetrics(collector)}
	if cfg.APIRateLimit > 0 {
		opts = append(opts, pawsapi.WithLimiter(rate.NewLimiter(rate.Limit(cfg.APIRateLimit), cfg.APIRateBurst)))
	}
	api := pawsapi.NewClient(httpClient, log, cfg.APIBaseURL, opts...)

	// 5. クエスト処理の初期化
	processor := quest.NewProcessor(
		api,
		pacing.NewRandom(cfg.QuestDelayMin, cfg.QuestDelayMax),
		security.NewTitleSanitizer(),
		collector,
	)
	orchestrator := quest.NewOrchestrator(
		api, identities, agents, processor, log,
		quest.OrchestratorConfig{
			SettleDelay:  pacing.Fixed(cfg.BalanceSettleDelay),
			AccountDelay: pacing.NewRandom(cfg.AccountDelayMin, cfg.AccountDelayMax),
		},
		collector,
	)

	return &Components{
		Orchestrator: orchestrator,
		Scheduler:    quest.NewScheduler(orchestrator, log),
		Registry:     reg,
		Accounts:     len(identities),
		UserAgents:   agents.Len(),
	}, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		return runHealthcheck(os.Getenv("STATUS_ADDR"))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log := slog.Default()
	comps, err := Build(cfg, log)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("api_base_url", cfg.APIBaseURL),
		slog.Int("accounts", comps.Accounts),
		slog.Int("user_agents", comps.UserAgents),
		slog.Bool("proxy", cfg.ProxyURL != ""),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		shutdown := startStatusServer(cfg.StatusAddr, comps, log)
		defer shutdown()
	}

	switch cmd {
	case CommandOnce:
		return runOnce(ctx, comps)
	default:
		return runScheduled(ctx, cfg, comps, log)
	}
}

// runScheduled はスケジューラで定期実行する。
// SIGINTまたはSIGTERMシグナルを受信すると実行中のパスを中断して終了する。
func runScheduled(ctx context.Context, cfg *config.Config, comps *Components, log *slog.Logger) error {
	comps.Scheduler.Start(ctx, cfg.RunInterval)
	log.Info("application stopped gracefully")
	return nil
}

// runOnce はパスを1回実行して終了する。
func runOnce(ctx context.Context, comps *Components) error {
	if _, err := comps.Orchestrator.RunOnce(ctx); err != nil {
		return fmt.Errorf("pass failed: %w", err)
	}
	return nil
}

// startStatusServer はステータスサーバーをバックグラウンドで起動し、停止関数を返す。
func startStatusServer(addr string, comps *Components, log *slog.Logger) func() {
	router := handler.NewRouter(&handler.RouterDeps{
		Summary:  comps.Orchestrator,
		Gatherer: comps.Registry,
		Logger:   log,
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("status server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server listen error", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("status server shutdown failed", slog.String("error", err.Error()))
			return
		}
		log.Info("status server stopped gracefully")
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// ステータスサーバーの /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(addr string) error {
	url, err := healthURL(addr)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthURL はSTATUS_ADDRからヘルスチェックURLを組み立てる。
// ホストが省略された場合（":8080"）はlocalhostを使う。
func healthURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("health check failed: STATUS_ADDR is not set")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health", nil
}
