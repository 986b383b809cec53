package quest

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/pawsquest/internal/model"
)

// PassRunner は1回のパスの実行インターフェース。
type PassRunner interface {
	RunOnce(ctx context.Context) (*model.PassSummary, error)
}

// TickerFunc は間隔dで時刻を送るチャネルと停止関数を返す。
// テストでは手動で時刻を送るチャネルに差し替える。
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler はパスを一定間隔で繰り返し実行する。
// パスは1つのgoroutineで順に実行されるため、重複して走ることはない。
type Scheduler struct {
	runner    PassRunner
	logger    *slog.Logger
	newTicker TickerFunc
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner PassRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		logger:    logger,
		newTicker: realTicker,
	}
}

// WithTicker はティッカーの生成関数を差し替える。
func (s *Scheduler) WithTicker(f TickerFunc) *Scheduler {
	s.newTicker = f
	return s
}

// Start は起動直後に1回パスを実行し、その後interval間隔で繰り返す。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	tick, stop := s.newTicker(interval)
	defer stop()

	s.logger.Info("クエストスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("クエストスケジューラを停止しました")
			return
		case t := <-tick:
			s.logger.Info("定期実行を開始します", slog.Time("at", t))
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.logger.Error("パスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
