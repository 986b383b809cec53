// Package quest はアカウントごとのクエスト処理と、全アカウントを対象とした
// 定期実行（パス）を提供する。プロセッサ、オーケストレータ、スケジューラを含む。
package quest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/model"
	"github.com/hitoshi/pawsquest/internal/pacing"
)

// QuestAPI はクエスト関連のAPI呼び出しのインターフェース。
type QuestAPI interface {
	ListQuests(ctx context.Context, token, userAgent string) ([]model.Quest, error)
	CompleteTask(ctx context.Context, token, questID, userAgent string) (bool, error)
	ClaimTask(ctx context.Context, token, questID, userAgent string) (bool, error)
}

// TitleSanitizer はログ出力前にクエストタイトルを無害化する。
type TitleSanitizer interface {
	Sanitize(title string) string
}

// Action はクエストの進捗状態に対して取る処理。
type Action string

const (
	// ActionCompleteAndClaim はタスク完了後に報酬を受け取る。
	ActionCompleteAndClaim Action = "complete_claim"
	// ActionClaim は報酬の受け取りのみ行う。
	ActionClaim Action = "claim"
	// ActionAlreadyDone は完了・受け取り済みのため何もしない。
	ActionAlreadyDone Action = "already_done"
	// ActionUnhandled は想定外の状態のため何もしない。
	ActionUnhandled Action = "unhandled"
)

// Decide はクエストの進捗状態から取るべき処理を決定する。
//
//	claimed=false, status=start     → 完了してから受け取り
//	claimed=false, status=claimable → 受け取りのみ
//	claimed=true,  status=finished  → 何もしない
//	それ以外                         → 何もしない（警告ログ）
func Decide(q model.Quest) Action {
	switch {
	case !q.Progress.Claimed && q.Progress.Status == model.QuestStatusStart:
		return ActionCompleteAndClaim
	case !q.Progress.Claimed && q.Progress.Status == model.QuestStatusClaimable:
		return ActionClaim
	case q.Progress.Claimed && q.Progress.Status == model.QuestStatusFinished:
		return ActionAlreadyDone
	default:
		return ActionUnhandled
	}
}

// Processor は1アカウント分のクエスト一覧を順番に処理する。
type Processor struct {
	api       QuestAPI
	delay     pacing.Delayer
	sanitizer TitleSanitizer
	metrics   metrics.MetricsCollector
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
// delayは各クエスト処理後の待機ポリシー。nilの場合は待機しない。
func NewProcessor(api QuestAPI, delay pacing.Delayer, sanitizer TitleSanitizer, mc metrics.MetricsCollector) *Processor {
	if delay == nil {
		delay = pacing.None{}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Processor{
		api:       api,
		delay:     delay,
		sanitizer: sanitizer,
		metrics:   mc,
	}
}

// Process はクエスト一覧に判定表を順に適用し、報酬を受け取ったクエスト数を返す。
// API呼び出しのエラーは即座に呼び出し元へ返す（残りのクエストは処理しない）。
// 各クエストの処理後には、どの分岐でもdelayに従って待機する。
func (p *Processor) Process(ctx context.Context, logger *slog.Logger, token, userAgent string, quests []model.Quest) (int, error) {
	claimed := 0

	for _, q := range quests {
		title := p.title(q.Title)
		reward := q.RewardAmount()
		action := Decide(q)

		switch action {
		case ActionCompleteAndClaim:
			logger.Info("タスクを完了します", slog.String("quest_id", q.ID), slog.String("title", title))
			ok, err := p.api.CompleteTask(ctx, token, q.ID, userAgent)
			if err != nil {
				return claimed, fmt.Errorf("タスク %s の完了に失敗しました: %w", q.ID, err)
			}
			if !ok {
				logger.Warn("タスク完了APIが success=false を返しました", slog.String("quest_id", q.ID))
			}
			ok, err = p.claim(ctx, logger, token, userAgent, q.ID, reward)
			if err != nil {
				return claimed, err
			}
			if ok {
				claimed++
			}

		case ActionClaim:
			logger.Info("報酬を受け取ります", slog.String("quest_id", q.ID), slog.String("title", title))
			ok, err := p.claim(ctx, logger, token, userAgent, q.ID, reward)
			if err != nil {
				return claimed, err
			}
			if ok {
				claimed++
			}

		case ActionAlreadyDone:
			logger.Info("タスクは完了・受け取り済みです", slog.String("quest_id", q.ID), slog.String("title", title))

		default:
			logger.Warn("未対応のクエスト状態のためスキップします",
				slog.String("quest_id", q.ID),
				slog.String("title", title),
				slog.Bool("claimed", q.Progress.Claimed),
				slog.String("status", string(q.Progress.Status)),
			)
		}

		p.metrics.RecordQuestAction(string(action))

		if err := p.delay.Wait(ctx); err != nil {
			return claimed, err
		}
	}

	return claimed, nil
}

func (p *Processor) claim(ctx context.Context, logger *slog.Logger, token, userAgent, questID string, reward float64) (bool, error) {
	ok, err := p.api.ClaimTask(ctx, token, questID, userAgent)
	if err != nil {
		return false, fmt.Errorf("タスク %s の報酬受け取りに失敗しました: %w", questID, err)
	}
	if !ok {
		logger.Warn("報酬受け取りAPIが success=false を返しました", slog.String("quest_id", questID))
		return false, nil
	}
	logger.Info("報酬を受け取りました", slog.String("quest_id", questID), slog.Float64("reward", reward))
	return true, nil
}

func (p *Processor) title(raw string) string {
	if p.sanitizer == nil {
		return raw
	}
	return p.sanitizer.Sanitize(raw)
}
