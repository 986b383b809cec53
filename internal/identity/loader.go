// Package identity はアカウントの認証情報（query_id）ファイルの読み込みを提供する。
package identity

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hitoshi/pawsquest/internal/model"
)

// ErrNoIdentities は有効な認証情報が1件もないことを示す。
var ErrNoIdentities = errors.New("identity: 有効な認証情報がありません")

// Load は認証情報ファイルを1行1件として読み込む。
// 各行はトリムされ、JSONとして解釈できればJSON値、できなければ文字列として扱う。
// トリム後に空になる行はスキップする。ファイル順は保持される。
func Load(path string) ([]model.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("認証情報ファイルを開けません: %w", err)
	}
	defer f.Close()

	ids, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("認証情報ファイルの読み込みに失敗しました: %s: %w", path, err)
	}
	return ids, nil
}

// Parse はreaderから認証情報を読み取る。
func Parse(r io.Reader) ([]model.Identity, error) {
	var ids []model.Identity

	scanner := bufio.NewScanner(r)
	// initDataは長くなることがあるため行バッファを拡張する
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids = append(ids, model.NewIdentity(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, ErrNoIdentities
	}
	return ids, nil
}
