// Package storage はローカル状態を保存するキーバリューストアを提供する。
//
// 端末ローカルのファイル、PostgreSQL、メモリの3種類のバックエンドを持ち、
// 上位層はSafeStoreを通して失敗しても処理を止めない読み書きを行う。
// 同じストアを複数プロセスで共有した場合の排他は行わず、後勝ちとなる。
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Store はキーバリューストアのインターフェース。
// Getはキーが存在しない場合にfound=falseを返す。
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// CredentialsKey はテーブル認証情報の保存キー。
func CredentialsKey() string {
	return "table_credentials"
}

// segmentEscaper はキーの区切り文字"_"と、エスケープに使う"%"を値の中で置き換える。
var segmentEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

// segment はキーに埋め込む値をエスケープする。"_"と"%"を含まない値はそのまま。
func segment(s string) string {
	return segmentEscaper.Replace(s)
}

// CartKey は(店舗, テーブル)単位のカート保存キー。
func CartKey(storeID string, tableNumber int) string {
	return fmt.Sprintf("cart_%s_%d", segment(storeID), tableNumber)
}

// SessionOrdersKey は(店舗, セッション)単位の注文履歴キャッシュのキー。
func SessionOrdersKey(storeID, sessionID string) string {
	return fmt.Sprintf("orders_%s_%s", segment(storeID), segment(sessionID))
}

// AdminAuthKey は管理者認証情報の保存キー。
func AdminAuthKey() string {
	return "admin_auth"
}

// SoundPreferenceKey は新規注文通知の設定キー。
func SoundPreferenceKey() string {
	return "order_sound"
}
