package quest

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/pawsquest/internal/model"
)

// --- モック定義 ---

// mockAPI はAPIのテスト用モック。呼び出し順を記録する。
type mockAPI struct {
	authenticateFunc func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error)
	listQuestsFunc   func(ctx context.Context, token, userAgent string) ([]model.Quest, error)
	completeTaskFunc func(ctx context.Context, token, questID, userAgent string) (bool, error)
	claimTaskFunc    func(ctx context.Context, token, questID, userAgent string) (bool, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockAPI) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockAPI) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockAPI) Authenticate(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
	m.record("auth:" + id.Raw)
	if m.authenticateFunc != nil {
		return m.authenticateFunc(ctx, id, userAgent)
	}
	return &model.Session{Token: "tok-" + id.Raw, Username: id.Raw}, nil
}

func (m *mockAPI) ListQuests(ctx context.Context, token, userAgent string) ([]model.Quest, error) {
	m.record("list:" + token)
	if m.listQuestsFunc != nil {
		return m.listQuestsFunc(ctx, token, userAgent)
	}
	return nil, nil
}

func (m *mockAPI) CompleteTask(ctx context.Context, token, questID, userAgent string) (bool, error) {
	m.record("complete:" + questID)
	if m.completeTaskFunc != nil {
		return m.completeTaskFunc(ctx, token, questID, userAgent)
	}
	return true, nil
}

func (m *mockAPI) ClaimTask(ctx context.Context, token, questID, userAgent string) (bool, error) {
	m.record("claim:" + questID)
	if m.claimTaskFunc != nil {
		return m.claimTaskFunc(ctx, token, questID, userAgent)
	}
	return true, nil
}

// countingDelayer は待機回数を数えるDelayer。
type countingDelayer struct {
	mu    sync.Mutex
	count int
}

func (d *countingDelayer) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
	return ctx.Err()
}

func (d *countingDelayer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// fixedAgents は常に同じUser-Agentを返すUserAgentSource。
type fixedAgents string

func (f fixedAgents) Random() string { return string(f) }

// recordingMetrics は記録されたアクションと結果を保持するMetricsCollector。
type recordingMetrics struct {
	mu       sync.Mutex
	actions  []string
	accounts []bool
	passes   []float64
}

func (m *recordingMetrics) RecordAPIRequest(string, int, time.Duration) {}

func (m *recordingMetrics) RecordQuestAction(action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, action)
}

func (m *recordingMetrics) RecordAccountResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, success)
}

func (m *recordingMetrics) RecordPass(total float64, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = append(m.passes, total)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newQuest(id string, claimed bool, status model.QuestStatus) model.Quest {
	return model.Quest{
		ID:       id,
		Title:    "quest " + id,
		Rewards:  []model.Reward{{Amount: 100}},
		Progress: model.QuestProgress{Claimed: claimed, Status: status},
	}
}
