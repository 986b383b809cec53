// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAuthRejected は認証APIが success=false を返したことを示す。
var ErrAuthRejected = errors.New("認証が拒否されました")

// ErrUnexpectedStatus はAPIが2xx以外のステータスを返したことを示す。
var ErrUnexpectedStatus = errors.New("unexpected http status")

// APIError はリモートAPI呼び出しの失敗を表す。
// エンドポイント、HTTPステータス、レスポンスボディ（取得できた場合）を保持する。
type APIError struct {
	Op         string // 呼び出し名: authenticate, list_quests, complete_task, claim_task
	StatusCode int    // HTTPステータス（トランスポートエラー時は0）
	Body       string // レスポンスボディ
	Err        error  // 原因
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Op)
	if e.Err != nil {
		fmt.Fprintf(&b, " %v", e.Err)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

// Unwrap は原因のエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Detail はログ出力用の詳細を返す。
// レスポンスボディがあればボディを、なければ原因のエラーメッセージを返す。
func (e *APIError) Detail() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// NewTransportError はHTTP送受信の失敗を表すAPIErrorを生成する。
func NewTransportError(op string, err error) *APIError {
	return &APIError{Op: op, Err: err}
}

// NewStatusError はエラーステータスのレスポンスを表すAPIErrorを生成する。
func NewStatusError(op string, statusCode int, body string) *APIError {
	return &APIError{
		Op:         op,
		StatusCode: statusCode,
		Body:       body,
		Err:        ErrUnexpectedStatus,
	}
}
