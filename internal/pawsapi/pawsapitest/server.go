// Package pawsapitest はテスト用のPaws API互換サーバーを提供する。
package pawsapitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pawsquest/internal/model"
)

// Account はテストサーバー上の1アカウント。
type Account struct {
	Token    string
	Username string
	// Balances はn回目の認証で返す残高。要素数を超えた場合は最後の値を返す。
	Balances []float64
	Quests   []model.Quest
	// Reject がtrueの場合、認証は success=false を返す。
	Reject bool
}

// Call はサーバーが受け付けた呼び出しの記録。
type Call struct {
	Path      string
	Token     string
	QuestID   string
	UserAgent string
}

// Server はPaws API互換のテストサーバー。
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	accounts  map[string]*Account
	authCount map[string]int
	calls     []Call
	failures  map[string]int
}

// NewServer はテストサーバーを起動する。
// accountsのキーはquery_idの文字列値（JSON行の場合は行そのもの）。
func NewServer(accounts map[string]*Account) *Server {
	s := &Server{
		accounts:  accounts,
		authCount: make(map[string]int),
		failures:  make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/user/auth", s.handleAuth)
	r.Get("/quests/list", s.handleList)
	r.Post("/quests/completed", s.handleQuestAction)
	r.Post("/quests/claim", s.handleQuestAction)

	s.Server = httptest.NewServer(r)
	return s
}

// FailPath は指定パスへの以降の呼び出しをstatusで失敗させる。
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// Calls は受け付けた呼び出しの記録を返す。
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// AuthCount はquery_idごとの認証回数を返す。
func (s *Server) AuthCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount[key]
}

func (s *Server) record(r *http.Request, questID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Path:      r.URL.Path,
		Token:     strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "),
		QuestID:   questID,
		UserAgent: r.Header.Get("User-Agent"),
	})
	status, ok := s.failures[r.URL.Path]
	return status, ok
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bad request"})
		return
	}
	if status, fail := s.record(r, ""); fail {
		writeJSON(w, status, map[string]any{"success": false, "error": "injected failure"})
		return
	}

	key := string(req.Data)
	var str string
	if err := json.Unmarshal(req.Data, &str); err == nil {
		key = str
	}

	s.mu.Lock()
	acc, ok := s.accounts[key]
	n := s.authCount[key]
	s.authCount[key] = n + 1
	s.mu.Unlock()

	if !ok || acc.Reject {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "invalid query_id"})
		return
	}

	balance := 0.0
	if len(acc.Balances) > 0 {
		balance = acc.Balances[min(n, len(acc.Balances)-1)]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": []any{
			acc.Token,
			map[string]any{
				"userData": map[string]any{"username": acc.Username},
				"gameData": map[string]any{"balance": balance},
			},
		},
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if status, fail := s.record(r, ""); fail {
		writeJSON(w, status, map[string]any{"error": "injected failure"})
		return
	}
	acc := s.accountByToken(r)
	if acc == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	quests := acc.Quests
	if quests == nil {
		quests = []model.Quest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": quests})
}

func (s *Server) handleQuestAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestID string `json:"questId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false})
		return
	}
	if status, fail := s.record(r, req.QuestID); fail {
		writeJSON(w, status, map[string]any{"success": false, "error": "injected failure"})
		return
	}
	if s.accountByToken(r) == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) accountByToken(r *http.Request) *Account {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.Token == token {
			return acc
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
