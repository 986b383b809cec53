package quest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/model"
	"github.com/hitoshi/pawsquest/internal/pacing"
)

// API はオーケストレータが使用するAPI呼び出しのインターフェース。
type API interface {
	QuestAPI
	Authenticate(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error)
}

// UserAgentSource はアカウントごとに使用するUser-Agentを供給する。
type UserAgentSource interface {
	Random() string
}

// OrchestratorConfig はオーケストレータの待機ポリシー。
type OrchestratorConfig struct {
	// SettleDelay はクエスト処理後、残高を再取得するまでの待機（デフォルト: 30秒）。
	SettleDelay pacing.Delayer
	// AccountDelay は次のアカウントへ進むまでの待機（デフォルト: 2〜7秒）。
	AccountDelay pacing.Delayer
}

// DefaultOrchestratorConfig はデフォルトの待機ポリシーを返す。
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SettleDelay:  pacing.Fixed(30 * time.Second),
		AccountDelay: pacing.NewRandom(2*time.Second, 7*time.Second),
	}
}

// Orchestrator は全アカウントを1件ずつ順番に処理する（1パス）。
// あるアカウントの失敗は記録したうえで次のアカウントへ進む。
type Orchestrator struct {
	api        API
	identities []model.Identity
	agents     UserAgentSource
	processor  *Processor
	logger     *slog.Logger
	config     OrchestratorConfig
	metrics    metrics.MetricsCollector
	now        func() time.Time

	mu   sync.RWMutex
	last *model.PassSummary
}

// NewOrchestrator はOrchestratorの新しいインスタンスを生成する。
// identitiesとagentsは起動時に読み込んだものを渡し、以降は変更しない。
func NewOrchestrator(
	api API,
	identities []model.Identity,
	agents UserAgentSource,
	processor *Processor,
	logger *slog.Logger,
	config OrchestratorConfig,
	mc metrics.MetricsCollector,
) *Orchestrator {
	if config.SettleDelay == nil {
		config.SettleDelay = pacing.None{}
	}
	if config.AccountDelay == nil {
		config.AccountDelay = pacing.None{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Orchestrator{
		api:        api,
		identities: identities,
		agents:     agents,
		processor:  processor,
		logger:     logger,
		config:     config,
		metrics:    mc,
		now:        time.Now,
	}
}

// RunOnce は全アカウントに対して1回のパスを実行し、結果を返す。
// 合計残高はパス開始時に0にリセットされる。
// コンテキストがキャンセルされた場合はそこまでの結果とエラーを返す。
func (o *Orchestrator) RunOnce(ctx context.Context) (*model.PassSummary, error) {
	summary := &model.PassSummary{
		RunID:     uuid.New().String(),
		StartedAt: o.now(),
		Accounts:  make([]model.AccountResult, 0, len(o.identities)),
	}
	logger := o.logger.With(slog.String("run_id", summary.RunID))

	logger.Info("全アカウントのクエスト処理を開始します",
		slog.Int("account_count", len(o.identities)),
	)

	var total float64
	for i, id := range o.identities {
		if err := ctx.Err(); err != nil {
			return o.abort(summary, total, err)
		}

		accLogger := logger.With(slog.Int("account", i))
		res, contribution, err := o.runAccount(ctx, accLogger, i, id)
		total += contribution

		if err != nil {
			res.Error = err.Error()
			attrs := []any{
				slog.String("query_id", maskCredential(id.Raw)),
				slog.String("error", err.Error()),
			}
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				attrs = append(attrs, slog.String("detail", apiErr.Detail()))
			}
			accLogger.Error("アカウントの処理に失敗しました", attrs...)
		}
		o.metrics.RecordAccountResult(err == nil)
		summary.Accounts = append(summary.Accounts, res)

		if ctx.Err() != nil {
			return o.abort(summary, total, ctx.Err())
		}

		if err := o.config.AccountDelay.Wait(ctx); err != nil {
			return o.abort(summary, total, err)
		}
	}

	summary.TotalBalance = total
	summary.FinishedAt = o.now()

	logger.Info("全アカウントのクエスト処理が完了しました",
		slog.Float64("total_balance", total),
		slog.Int("account_count", len(summary.Accounts)),
		slog.Int("failed_count", summary.Failed()),
		slog.Float64("duration_ms", float64(summary.FinishedAt.Sub(summary.StartedAt).Milliseconds())),
	)

	o.metrics.RecordPass(total, summary.FinishedAt.Sub(summary.StartedAt))

	o.mu.Lock()
	o.last = summary
	o.mu.Unlock()

	return summary, nil
}

// runAccount は1アカウント分の処理を行い、結果と合計残高への寄与分を返す。
// 認証成功後に失敗した場合も、初回残高は寄与分に含まれる。
func (o *Orchestrator) runAccount(ctx context.Context, logger *slog.Logger, index int, id model.Identity) (model.AccountResult, float64, error) {
	res := model.AccountResult{Index: index}

	userAgent := o.agents.Random()

	sess, err := o.api.Authenticate(ctx, id, userAgent)
	if err != nil {
		return res, 0, fmt.Errorf("認証に失敗しました: %w", err)
	}
	res.Username = sess.Username
	res.InitialBalance = sess.Balance
	contribution := sess.Balance

	logger = logger.With(slog.String("username", sess.Username))
	logger.Info("アカウントを認証しました", slog.Float64("initial_balance", sess.Balance))

	quests, err := o.api.ListQuests(ctx, sess.Token, userAgent)
	if err != nil {
		return res, contribution, fmt.Errorf("クエスト一覧の取得に失敗しました: %w", err)
	}

	logger.Info("クエスト一覧を取得しました", slog.Int("quest_count", len(quests)))

	claimed, err := o.processor.Process(ctx, logger, sess.Token, userAgent, quests)
	res.Claimed = claimed
	if err != nil {
		return res, contribution, err
	}

	logger.Info("残高の反映を待機します")
	if err := o.config.SettleDelay.Wait(ctx); err != nil {
		return res, contribution, err
	}

	updated, err := o.api.Authenticate(ctx, id, userAgent)
	if err != nil {
		return res, contribution, fmt.Errorf("残高再取得のための認証に失敗しました: %w", err)
	}
	res.UpdatedBalance = updated.Balance
	contribution += updated.Balance - sess.Balance

	logger.Info("更新後の残高を取得しました",
		slog.Float64("updated_balance", updated.Balance),
		slog.Float64("delta", updated.Balance-sess.Balance),
		slog.Int("claimed", claimed),
	)

	return res, contribution, nil
}

func (o *Orchestrator) abort(summary *model.PassSummary, total float64, err error) (*model.PassSummary, error) {
	summary.TotalBalance = total
	summary.FinishedAt = o.now()
	o.logger.Warn("パスを中断しました",
		slog.String("run_id", summary.RunID),
		slog.Int("processed", len(summary.Accounts)),
		slog.String("error", err.Error()),
	)
	return summary, err
}

// LastSummary は直近に完了したパスの結果を返す。未完了の場合はnilを返す。
func (o *Orchestrator) LastSummary() *model.PassSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	cp.Accounts = append([]model.AccountResult(nil), o.last.Accounts...)
	return &cp
}

// maskCredential は認証情報をログ出力用にマスクする。
func maskCredential(raw string) string {
	if len(raw) > 12 {
		return raw[:8] + "***"
	}
	return "***"
}
