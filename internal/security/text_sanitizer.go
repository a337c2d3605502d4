// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はバックエンドから受け取ったメニュー名や説明文からマークアップを除去し、
// UIにはプレーンテキストだけが渡るようにする。
// ImageURLGuard は管理者が入力したメニュー画像URLをSSRF対策付きで検証する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はプレーンテキスト化のインターフェース。
type TextSanitizerService interface {
	// Sanitize は全てのタグを除去し、HTMLエンティティをデコードしたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// maxSanitizePasses はエンティティ化されたタグを剥がす最大回数。
const maxSanitizePasses = 3

// TextSanitizer はbluemondayのStrictPolicyによるTextSanitizerServiceの実装。
// ポリシーはスレッドセーフに共有できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はrawからマークアップを除去する。
// StrictPolicyは&等をエスケープするため、出力はデコードしてプレーンテキストに戻す。
// "&lt;script&gt;" のように二重にエンコードされた入力はデコード後に再度除去する。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

var _ TextSanitizerService = (*TextSanitizer)(nil)
