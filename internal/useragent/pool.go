// Package useragent はリクエストヘッダーに使うUser-Agent文字列のプールを提供する。
package useragent

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

// ErrEmptyPool はUser-Agentが1件も読み込めなかったことを示す。
var ErrEmptyPool = errors.New("useragent: User-Agentが1件もありません")

// Pool は起動時に1回読み込んだUser-Agentの一覧を保持し、
// 一様ランダムに1件を返す。読み込み後は一覧を変更しない。
type Pool struct {
	agents []string

	mu  sync.Mutex // rndの保護
	rnd *rand.Rand
}

// NewPool はUser-Agent一覧からPoolを生成する。
// rndがnilの場合はランダムなシードを使用する。
func NewPool(agents []string, rnd *rand.Rand) (*Pool, error) {
	if len(agents) == 0 {
		return nil, ErrEmptyPool
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	cp := make([]string, len(agents))
	copy(cp, agents)
	return &Pool{agents: cp, rnd: rnd}, nil
}

// Load は改行区切りのUser-Agentファイルを読み込んでPoolを生成する。
// 空行はスキップする。ファイルが存在しない場合や空の場合はエラーを返す。
func Load(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("User-Agentファイルを開けません: %w", err)
	}
	defer f.Close()

	var agents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		agents = append(agents, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("User-Agentファイルの読み込みに失敗しました: %s: %w", path, err)
	}

	pool, err := NewPool(agents, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pool, nil
}

// Random は一覧から一様ランダムに1件を返す。
func (p *Pool) Random() string {
	p.mu.Lock()
	i := p.rnd.IntN(len(p.agents))
	p.mu.Unlock()
	return p.agents[i]
}

// Len は一覧の件数を返す。
func (p *Pool) Len() int {
	return len(p.agents)
}

// Contains はuaが一覧に含まれるかを返す。
func (p *Pool) Contains(ua string) bool {
	for _, a := range p.agents {
		if a == ua {
			return true
		}
	}
	return false
}
