// Package pawsapi はPaws APIのクライアントを提供する。
// 認証、クエスト一覧取得、タスク完了、報酬受け取りの4つの呼び出しを含む。
package pawsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/pawsquest/internal/metrics"
	"github.com/hitoshi/pawsquest/internal/model"
)

const (
	// DefaultBaseURL はPaws APIのベースURL。
	DefaultBaseURL = "https://api.paws.community/v1"

	pathAuth          = "/user/auth"
	pathQuestList     = "/quests/list"
	pathQuestComplete = "/quests/completed"
	pathQuestClaim    = "/quests/claim"

	// maxResponseSize はレスポンスボディの最大読み取りサイズ。
	maxResponseSize = 4 << 20
)

// 呼び出し名。ログとメトリクスのラベルに使用する。
const (
	OpAuthenticate = "authenticate"
	OpListQuests   = "list_quests"
	OpCompleteTask = "complete_task"
	OpClaimTask    = "claim_task"
)

// Client はPaws APIのクライアント。
// 呼び出しは1回のみ試行し、リトライは行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithLimiter は呼び出し間隔を制御するレートリミッターを設定する。
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Headers はブラウザを模した共通ヘッダーを生成する。
func Headers(userAgent string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Connection", "keep-alive")
	h.Set("Cache-Control", "no-cache")
	return h
}

type authRequest struct {
	Data json.RawMessage `json:"data"`
}

type authResponse struct {
	Success bool              `json:"success"`
	Data    []json.RawMessage `json:"data"`
}

type authUser struct {
	UserData struct {
		Username string `json:"username"`
	} `json:"userData"`
	GameData struct {
		Balance float64 `json:"balance"`
	} `json:"gameData"`
}

type questListResponse struct {
	Data []model.Quest `json:"data"`
}

type questRequest struct {
	QuestID string `json:"questId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Authenticate はquery_idで認証し、アクセストークン・ユーザー名・残高を取得する。
// success=false、エラーステータス、送受信失敗のいずれもエラーとして返す。
func (c *Client) Authenticate(ctx context.Context, id model.Identity, userAgent string) (*model.Session, error) {
	status, body, err := c.do(ctx, OpAuthenticate, http.MethodPost, pathAuth, "", userAgent, authRequest{Data: id.Payload})
	if err != nil {
		return nil, err
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.invalidResponse(OpAuthenticate, status, body, err)
	}

	if !resp.Success {
		c.logger.Error("認証に失敗しました",
			slog.Int("http_status", status),
			slog.String("body", string(body)),
		)
		return nil, &model.APIError{Op: OpAuthenticate, StatusCode: status, Body: string(body), Err: model.ErrAuthRejected}
	}

	if len(resp.Data) < 2 {
		return nil, c.invalidResponse(OpAuthenticate, status, body,
			fmt.Errorf("data の要素数が不足しています: %d", len(resp.Data)))
	}

	var token string
	if err := json.Unmarshal(resp.Data[0], &token); err != nil {
		return nil, c.invalidResponse(OpAuthenticate, status, body, fmt.Errorf("トークンのパースに失敗しました: %w", err))
	}

	var user authUser
	if err := json.Unmarshal(resp.Data[1], &user); err != nil {
		return nil, c.invalidResponse(OpAuthenticate, status, body, fmt.Errorf("ユーザー情報のパースに失敗しました: %w", err))
	}

	return &model.Session{
		Token:    token,
		Username: user.UserData.Username,
		Balance:  user.GameData.Balance,
	}, nil
}

// ListQuests はクエスト一覧を取得する。
func (c *Client) ListQuests(ctx context.Context, token, userAgent string) ([]model.Quest, error) {
	status, body, err := c.do(ctx, OpListQuests, http.MethodGet, pathQuestList, token, userAgent, nil)
	if err != nil {
		return nil, err
	}

	var resp questListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.invalidResponse(OpListQuests, status, body, err)
	}
	return resp.Data, nil
}

// CompleteTask はクエストを完了状態にする。APIの success フィールドを返す。
func (c *Client) CompleteTask(ctx context.Context, token, questID, userAgent string) (bool, error) {
	return c.postQuest(ctx, OpCompleteTask, pathQuestComplete, token, questID, userAgent)
}

// ClaimTask はクエストの報酬を受け取る。APIの success フィールドを返す。
func (c *Client) ClaimTask(ctx context.Context, token, questID, userAgent string) (bool, error) {
	return c.postQuest(ctx, OpClaimTask, pathQuestClaim, token, questID, userAgent)
}

func (c *Client) postQuest(ctx context.Context, op, path, token, questID, userAgent string) (bool, error) {
	status, body, err := c.do(ctx, op, http.MethodPost, path, token, userAgent, questRequest{QuestID: questID})
	if err != nil {
		return false, err
	}

	var resp successResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, c.invalidResponse(op, status, body, err)
	}
	return resp.Success, nil
}

// do はリクエストを1回送信し、HTTPステータスとレスポンスボディを返す。
// 2xx以外のステータスと送受信失敗は*model.APIErrorとして返す。
func (c *Client) do(ctx context.Context, op, method, path, token, userAgent string, payload any) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, model.NewTransportError(op, err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, model.NewTransportError(op, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err))
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, model.NewTransportError(op, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header = Headers(userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(op, 0, time.Since(start))
		c.logger.Error("Paws APIの呼び出しに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return 0, nil, model.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.metrics.RecordAPIRequest(op, resp.StatusCode, time.Since(start))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return resp.StatusCode, nil, &model.APIError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Paws APIがエラーステータスを返しました",
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return resp.StatusCode, body, model.NewStatusError(op, resp.StatusCode, string(body))
	}

	c.logger.Debug("Paws API response",
		slog.String("op", op),
		slog.Int("http_status", resp.StatusCode),
	)

	return resp.StatusCode, body, nil
}

func (c *Client) invalidResponse(op string, status int, body []byte, err error) error {
	c.logger.Error("Paws APIのレスポンスのパースに失敗しました",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.String("body", string(body)),
	)
	return &model.APIError{
		Op:         op,
		StatusCode: status,
		Body:       string(body),
		Err:        fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err),
	}
}
