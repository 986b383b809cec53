package quest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/model"
	"github.com/hitoshi/pawsquest/internal/pawsapi"
	"github.com/hitoshi/pawsquest/internal/pawsapi/pawsapitest"
)

func identities(raws ...string) []model.Identity {
	ids := make([]model.Identity, 0, len(raws))
	for _, r := range raws {
		ids = append(ids, model.NewIdentity(r))
	}
	return ids
}

func newTestOrchestrator(api API, ids []model.Identity, buf *bytes.Buffer, cfg OrchestratorConfig, mc *recordingMetrics) *Orchestrator {
	var collector metrics.MetricsCollector
	if mc != nil {
		collector = mc
	}
	logger := newTestLogger(buf)
	p := NewProcessor(api, nil, nil, collector)
	return NewOrchestrator(api, ids, fixedAgents("ua"), p, logger, cfg, collector)
}

func TestOrchestrator_RunOnce_RunningTotal(t *testing.T) {
	var buf bytes.Buffer
	auths := map[string]int{}
	api := &mockAPI{
		authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
			auths[id.Raw]++
			balances := map[string][2]float64{
				"a": {100, 150},
				"b": {10, 10},
			}
			b := balances[id.Raw]
			bal := b[0]
			if auths[id.Raw] > 1 {
				bal = b[1]
			}
			return &model.Session{Token: "tok-" + id.Raw, Username: "user-" + id.Raw, Balance: bal}, nil
		},
	}
	mc := &recordingMetrics{}
	o := newTestOrchestrator(api, identities("a", "b"), &buf, OrchestratorConfig{}, mc)

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	// 合計 = 100 + (150-100) + 10 + (10-10) = 160
	if summary.TotalBalance != 160 {
		t.Errorf("TotalBalance = %v, want 160", summary.TotalBalance)
	}
	if len(summary.Accounts) != 2 {
		t.Fatalf("Accounts = %d, want 2", len(summary.Accounts))
	}
	if summary.Accounts[0].InitialBalance != 100 || summary.Accounts[0].UpdatedBalance != 150 {
		t.Errorf("Accounts[0] = %+v", summary.Accounts[0])
	}
	if summary.RunID == "" {
		t.Error("RunID が設定されるべき")
	}
	if summary.Failed() != 0 {
		t.Errorf("Failed = %d, want 0", summary.Failed())
	}
	if !reflect.DeepEqual(mc.accounts, []bool{true, true}) {
		t.Errorf("アカウント結果のメトリクス = %v", mc.accounts)
	}
	if !reflect.DeepEqual(mc.passes, []float64{160}) {
		t.Errorf("パスのメトリクス = %v", mc.passes)
	}
}

func TestOrchestrator_RunOnce_CallOrderPerIdentity(t *testing.T) {
	var buf bytes.Buffer
	api := &mockAPI{
		listQuestsFunc: func(ctx context.Context, token, userAgent string) ([]model.Quest, error) {
			return []model.Quest{newQuest("q1", false, model.QuestStatusClaimable)}, nil
		},
	}
	o := newTestOrchestrator(api, identities("a"), &buf, OrchestratorConfig{}, nil)

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	want := []string{"auth:a", "list:tok-a", "claim:q1", "auth:a"}
	if got := api.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("呼び出し順 = %v, want %v", got, want)
	}
}

func TestOrchestrator_RunOnce_FailureIsolation(t *testing.T) {
	tests := []struct {
		name string
		api  func() *mockAPI
		// wantTotal は失敗したアカウント "bad" の寄与分を含めた合計
		wantTotal float64
	}{
		{
			name: "認証失敗は寄与0",
			api: func() *mockAPI {
				return &mockAPI{
					authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
						if id.Raw == "bad" {
							return nil, &model.APIError{Op: "authenticate", Err: model.ErrAuthRejected}
						}
						return &model.Session{Token: "tok-" + id.Raw, Balance: 10}, nil
					},
				}
			},
			wantTotal: 20,
		},
		{
			name: "一覧取得失敗は初回残高を保持",
			api: func() *mockAPI {
				return &mockAPI{
					authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
						return &model.Session{Token: "tok-" + id.Raw, Balance: 10}, nil
					},
					listQuestsFunc: func(ctx context.Context, token, userAgent string) ([]model.Quest, error) {
						if token == "tok-bad" {
							return nil, &model.APIError{Op: "list_quests", StatusCode: 500, Body: "oops", Err: model.ErrUnexpectedStatus}
						}
						return nil, nil
					},
				}
			},
			wantTotal: 30,
		},
		{
			name: "受け取り失敗は初回残高を保持",
			api: func() *mockAPI {
				return &mockAPI{
					authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
						return &model.Session{Token: "tok-" + id.Raw, Balance: 10}, nil
					},
					listQuestsFunc: func(ctx context.Context, token, userAgent string) ([]model.Quest, error) {
						if token == "tok-bad" {
							return []model.Quest{newQuest("q1", false, model.QuestStatusClaimable)}, nil
						}
						return nil, nil
					},
					claimTaskFunc: func(ctx context.Context, token, questID, userAgent string) (bool, error) {
						return false, errors.New("connection reset")
					},
				}
			},
			wantTotal: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			api := tt.api()
			delay := &countingDelayer{}
			mc := &recordingMetrics{}
			o := newTestOrchestrator(api, identities("good1", "bad", "good2"), &buf,
				OrchestratorConfig{AccountDelay: delay}, mc)

			summary, err := o.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("アカウント単位の失敗でパス全体が失敗してはならない: %v", err)
			}

			if len(summary.Accounts) != 3 {
				t.Fatalf("Accounts = %d, want 3", len(summary.Accounts))
			}
			if summary.Accounts[1].Error == "" {
				t.Error("失敗したアカウントにエラーが記録されるべき")
			}
			if summary.Accounts[2].Error != "" {
				t.Errorf("後続のアカウントは処理されるべき: %+v", summary.Accounts[2])
			}
			if summary.TotalBalance != tt.wantTotal {
				t.Errorf("TotalBalance = %v, want %v", summary.TotalBalance, tt.wantTotal)
			}
			// 失敗したアカウントの後も待機する
			if delay.Count() != 3 {
				t.Errorf("アカウント間の待機回数 = %d, want 3", delay.Count())
			}
			if !reflect.DeepEqual(mc.accounts, []bool{true, false, true}) {
				t.Errorf("アカウント結果のメトリクス = %v", mc.accounts)
			}
			if !strings.Contains(buf.String(), "アカウントの処理に失敗しました") {
				t.Errorf("失敗ログが出力されるべき: %s", buf.String())
			}
		})
	}
}

func TestOrchestrator_RunOnce_MasksCredentialInLogs(t *testing.T) {
	var buf bytes.Buffer
	secret := "query_id=AAAAbbbbCCCCddddEEEE"
	api := &mockAPI{
		authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
			return nil, &model.APIError{Op: "authenticate", Body: `{"success":false}`, Err: model.ErrAuthRejected}
		},
	}
	o := newTestOrchestrator(api, identities(secret), &buf, OrchestratorConfig{}, nil)

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	logs := buf.String()
	if strings.Contains(logs, secret) {
		t.Errorf("認証情報がそのままログに出力されてはならない: %s", logs)
	}
	if !strings.Contains(logs, "query_id***") {
		t.Errorf("マスクされた認証情報がログに出力されるべき: %s", logs)
	}
	if !strings.Contains(logs, `"detail":"{\"success\":false}"`) {
		t.Errorf("APIErrorの詳細がログに出力されるべき: %s", logs)
	}
}

func TestOrchestrator_RunOnce_SettleDelayBeforeReauth(t *testing.T) {
	var buf bytes.Buffer
	settle := &countingDelayer{}
	api := &mockAPI{}
	api.authenticateFunc = func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
		// 2回目の認証（残高再取得）の時点で待機が完了していること
		n := 0
		for _, c := range api.calls {
			if c == "auth:a" {
				n++
			}
		}
		if n == 2 && settle.Count() != 1 {
			t.Errorf("残高再取得前に待機が1回行われるべき: %d", settle.Count())
		}
		return &model.Session{Token: "tok", Balance: 1}, nil
	}
	o := newTestOrchestrator(api, identities("a"), &buf, OrchestratorConfig{SettleDelay: settle}, nil)

	if _, err := o.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if settle.Count() != 1 {
		t.Errorf("待機回数 = %d, want 1", settle.Count())
	}
}

func TestOrchestrator_RunOnce_TotalResetsEachPass(t *testing.T) {
	var buf bytes.Buffer
	api := &mockAPI{
		authenticateFunc: func(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
			return &model.Session{Token: "tok", Balance: 40}, nil
		},
	}
	o := newTestOrchestrator(api, identities("a"), &buf, OrchestratorConfig{}, nil)

	for i := 0; i < 2; i++ {
		summary, err := o.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce がエラーを返した: %v", err)
		}
		if summary.TotalBalance != 40 {
			t.Errorf("pass %d: TotalBalance = %v, want 40", i, summary.TotalBalance)
		}
	}
}

func TestOrchestrator_RunOnce_ContextCanceled(t *testing.T) {
	var buf bytes.Buffer
	api := &mockAPI{}
	o := newTestOrchestrator(api, identities("a", "b"), &buf, OrchestratorConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(summary.Accounts) != 0 {
		t.Errorf("Accounts = %d, want 0", len(summary.Accounts))
	}
	if o.LastSummary() != nil {
		t.Error("中断したパスはLastSummaryに保存されないべき")
	}
}

func TestOrchestrator_LastSummary(t *testing.T) {
	var buf bytes.Buffer
	api := &mockAPI{}
	o := newTestOrchestrator(api, identities("a"), &buf, OrchestratorConfig{}, nil)

	if o.LastSummary() != nil {
		t.Fatal("パス実行前はnilであるべき")
	}

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	last := o.LastSummary()
	if last == nil {
		t.Fatal("パス完了後はnilであってはならない")
	}
	if last.RunID != summary.RunID {
		t.Errorf("RunID = %q, want %q", last.RunID, summary.RunID)
	}

	// 返り値はコピーであり、変更しても内部状態に影響しない
	last.Accounts[0].Username = "changed"
	if o.LastSummary().Accounts[0].Username == "changed" {
		t.Error("LastSummaryはコピーを返すべき")
	}
}

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"query_id=abcdefgh", "query_id***"},
	}
	for _, tt := range tests {
		if got := maskCredential(tt.in); got != tt.want {
			t.Errorf("maskCredential(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestOrchestrator_EndToEnd は2アカウントのシナリオをテストサーバーで検証する。
// アカウント1: 初回残高100、クエスト2件（未着手・受け取り可能）、再認証後の残高150
// アカウント2: 認証拒否
func TestOrchestrator_EndToEnd(t *testing.T) {
	srv := pawsapitest.NewServer(map[string]*pawsapitest.Account{
		"query_id=alice": {
			Token:    "tok-alice",
			Username: "alice",
			Balances: []float64{100, 150},
			Quests: []model.Quest{
				newQuest("q1", false, model.QuestStatusStart),
				newQuest("q2", false, model.QuestStatusClaimable),
				newQuest("q3", true, model.QuestStatusFinished),
			},
		},
		"query_id=bob": {Reject: true},
	})
	defer srv.Close()

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	client := pawsapi.NewClient(&http.Client{Timeout: 5 * time.Second}, logger, srv.URL)
	p := NewProcessor(client, nil, nil, nil)
	o := NewOrchestrator(client, identities("query_id=alice", "query_id=bob"), fixedAgents("ua-test"),
		p, logger, OrchestratorConfig{}, nil)

	summary, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}

	if summary.TotalBalance != 150 {
		t.Errorf("TotalBalance = %v, want 150", summary.TotalBalance)
	}
	if summary.Accounts[0].Claimed != 2 {
		t.Errorf("Claimed = %d, want 2", summary.Accounts[0].Claimed)
	}
	if summary.Accounts[1].Error == "" {
		t.Error("アカウント2は認証失敗として記録されるべき")
	}

	var paths []string
	for _, c := range srv.Calls() {
		paths = append(paths, c.Path+":"+c.QuestID)
		if c.UserAgent != "ua-test" {
			t.Errorf("User-Agent = %q, want ua-test", c.UserAgent)
		}
	}
	want := []string{
		"/user/auth:",
		"/quests/list:",
		"/quests/completed:q1",
		"/quests/claim:q1",
		"/quests/claim:q2",
		"/user/auth:",
		"/user/auth:",
	}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("呼び出し順 = %v, want %v", paths, want)
	}
	if srv.AuthCount("query_id=alice") != 2 {
		t.Errorf("aliceの認証回数 = %d, want 2", srv.AuthCount("query_id=alice"))
	}
}
