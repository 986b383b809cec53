package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はリモートAPIから受け取ったクエストタイトルをログ出力用に無害化する。
// タイトルにはHTMLタグや制御文字が含まれることがあるため、
// bluemondayのStrictPolicyで全タグを除去してからエンティティを戻す。
type TitleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerを生成する。
func NewTitleSanitizer() *TitleSanitizer {
	return &TitleSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグと制御文字を除去し、連続する空白を1つにまとめた文字列を返す。
func (s *TitleSanitizer) Sanitize(title string) string {
	if title == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(title))
	stripped = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}
