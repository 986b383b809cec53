// Package pacing はAPI呼び出し間の待機ポリシーを提供する。
// 人間の操作間隔を模した待機を差し替え可能にし、テストでは待機なしにできる。
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Delayer は1回分の待機を行う。
// コンテキストがキャンセルされた場合は待機を中断してエラーを返す。
type Delayer interface {
	Wait(ctx context.Context) error
}

// Sleep はdだけ待機する。ctxがキャンセルされたら即座に戻る。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fixed は常に同じ時間だけ待機する。
type Fixed time.Duration

// Wait はDelayerを実装する。
func (f Fixed) Wait(ctx context.Context) error {
	return Sleep(ctx, time.Duration(f))
}

// None は待機しない。テスト用。
type None struct{}

// Wait はDelayerを実装する。
func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Random は [Min, Max) の範囲で一様ランダムな時間だけ待機する。
type Random struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom はRandomを生成する。maxDelayがminDelay以下の場合は常にminDelayだけ待機する。
func NewRandom(minDelay, maxDelay time.Duration) *Random {
	return &Random{
		Min: minDelay,
		Max: maxDelay,
		rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Next は次に待機する時間を返す。
func (r *Random) Next() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rnd == nil {
		r.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r.Min + time.Duration(r.rnd.Int64N(int64(r.Max-r.Min)))
}

// Wait はDelayerを実装する。
func (r *Random) Wait(ctx context.Context) error {
	return Sleep(ctx, r.Next())
}
