package model

import (
	"encoding/json"
	"time"
)

// Identity はアカウントごとの認証情報（query_id）を表す。
// 起動時に1回読み込み、以降は変更しない。
type Identity struct {
	// Raw はトリム済みの入力行。
	Raw string
	// Payload は認証リクエストの data フィールドとして送信するJSON値。
	Payload json.RawMessage
}

// NewIdentity は入力行からIdentityを生成する。
// 行が有効なJSONであればそのJSON値を、そうでなければ文字列として扱う。
func NewIdentity(line string) Identity {
	if json.Valid([]byte(line)) {
		return Identity{Raw: line, Payload: json.RawMessage(line)}
	}
	b, _ := json.Marshal(line)
	return Identity{Raw: line, Payload: b}
}

// Value はPayloadをデコードした値を返す。
// 生文字列の行はstring、JSON行はデコード結果（map、数値など）になる。
func (i Identity) Value() any {
	var v any
	if err := json.Unmarshal(i.Payload, &v); err != nil {
		return i.Raw
	}
	return v
}

// IsJSON は入力行がJSONとして解釈されたかを返す。
func (i Identity) IsJSON() bool {
	return json.Valid([]byte(i.Raw))
}

// Session は認証で得られる1パス・1アカウント分の一時的な状態。
type Session struct {
	Token    string
	Username string
	Balance  float64
}

// QuestStatus はクエスト進捗のステータス。
type QuestStatus string

const (
	// QuestStatusStart は未着手のクエスト。
	QuestStatusStart QuestStatus = "start"
	// QuestStatusClaimable は報酬受け取り可能なクエスト。
	QuestStatusClaimable QuestStatus = "claimable"
	// QuestStatusFinished は完了済みのクエスト。
	QuestStatusFinished QuestStatus = "finished"
)

// Reward はクエスト報酬。
type Reward struct {
	Amount float64 `json:"amount"`
}

// QuestProgress はクエストの進捗状態。
type QuestProgress struct {
	Claimed bool        `json:"claimed"`
	Status  QuestStatus `json:"status"`
}

// Quest はリモートAPIが管理するクエスト。
// クライアント側では変更せず、状態の変化は再取得でのみ反映される。
type Quest struct {
	ID       string        `json:"_id"`
	Title    string        `json:"title"`
	Rewards  []Reward      `json:"rewards"`
	Progress QuestProgress `json:"progress"`
}

// RewardAmount は表示用の報酬額として最初の報酬の額を返す。
// 報酬がない場合は0を返す。
func (q Quest) RewardAmount() float64 {
	if len(q.Rewards) == 0 {
		return 0
	}
	return q.Rewards[0].Amount
}

// AccountResult は1パス内の1アカウントの処理結果。
type AccountResult struct {
	Index          int     `json:"index"`
	Username       string  `json:"username,omitempty"`
	InitialBalance float64 `json:"initial_balance"`
	UpdatedBalance float64 `json:"updated_balance"`
	Claimed        int     `json:"claimed"`
	Error          string  `json:"error,omitempty"`
}

// PassSummary は1回のパス（全アカウントの処理）の結果。
type PassSummary struct {
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	TotalBalance float64         `json:"total_balance"`
	Accounts     []AccountResult `json:"accounts"`
}

// Failed は失敗したアカウント数を返す。
func (p *PassSummary) Failed() int {
	n := 0
	for _, a := range p.Accounts {
		if a.Error != "" {
			n++
		}
	}
	return n
}
