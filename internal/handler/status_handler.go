package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/pawsquest/internal/middleware"
	"github.com/hitoshi/pawsquest/internal/model"
)

// SummaryProvider は直近に完了したパスの結果を返す。
type SummaryProvider interface {
	LastSummary() *model.PassSummary
}

// StatusHandler はパス結果の参照APIを提供する。
type StatusHandler struct {
	summary SummaryProvider
}

// NewStatusHandler はStatusHandlerの新しいインスタンスを生成する。
func NewStatusHandler(summary SummaryProvider) *StatusHandler {
	return &StatusHandler{summary: summary}
}

// accountResponse は /status のアカウント単位のレスポンス。
type accountResponse struct {
	Index          int     `json:"index"`
	Username       string  `json:"username,omitempty"`
	InitialBalance float64 `json:"initial_balance"`
	UpdatedBalance float64 `json:"updated_balance"`
	Claimed        int     `json:"claimed"`
	Error          string  `json:"error,omitempty"`
}

// statusResponse は /status のレスポンス。
type statusResponse struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	DurationMs   int64             `json:"duration_ms"`
	TotalBalance float64           `json:"total_balance"`
	FailedCount  int               `json:"failed_count"`
	Accounts     []accountResponse `json:"accounts"`
}

// LastPass はGET /status を処理する。
// まだ完了したパスがない場合は404を返す。
func (h *StatusHandler) LastPass(w http.ResponseWriter, r *http.Request) {
	var s *model.PassSummary
	if h.summary != nil {
		s = h.summary.LastSummary()
	}
	if s == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NO_COMPLETED_PASS", "完了したパスはまだありません。")
		return
	}

	resp := statusResponse{
		RunID:        s.RunID,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		DurationMs:   s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
		TotalBalance: s.TotalBalance,
		FailedCount:  s.Failed(),
		Accounts:     make([]accountResponse, 0, len(s.Accounts)),
	}
	for _, a := range s.Accounts {
		resp.Accounts = append(resp.Accounts, accountResponse{
			Index:          a.Index,
			Username:       a.Username,
			InitialBalance: a.InitialBalance,
			UpdatedBalance: a.UpdatedBalance,
			Claimed:        a.Claimed,
			Error:          a.Error,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health はGET /health を処理する。プロセスが応答可能であれば200を返す。
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
