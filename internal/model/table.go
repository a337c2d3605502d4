// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

const (
	// MinQuantity はカート1行あたりの最小数量。
	MinQuantity = 1
	// MaxQuantity はカート1行あたりの最大数量。
	MaxQuantity = 99
)

// Credentials はテーブル認証情報を表す。
// サイレント再認証のためにそのまま永続化され、認証エンドポイント以外には送信しない。
type Credentials struct {
	StoreID     string `json:"storeId"`
	TableNumber int    `json:"tableNumber"`
	Password    string `json:"password"`
}

// Session はテーブル認証で得られるセッションを表す。
type Session struct {
	SessionID string
	ExpiresAt time.Time
}

// TableAuthResponse は POST /tables/auth のレスポンス。
type TableAuthResponse struct {
	SessionID   string    `json:"session_id"`
	TableNumber int       `json:"table_number"`
	StoreID     string    `json:"store_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Table は管理画面で扱うテーブルを表す。
type Table struct {
	ID          string `json:"id"`
	StoreID     string `json:"store_id"`
	TableNumber int    `json:"table_number"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// TableSessionInfo は管理画面のセッション開始レスポンスを表す。
type TableSessionInfo struct {
	ID          string `json:"id"`
	StoreID     string `json:"store_id"`
	TableNumber int    `json:"table_number"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	ExpiresAt   string `json:"expires_at"`
	EndedAt     string `json:"ended_at,omitempty"`
}

// AdminUser は管理者ログインで返されるユーザー情報。
type AdminUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AdminLoginResponse は POST /admin/login のレスポンス。
type AdminLoginResponse struct {
	Token string    `json:"token"`
	User  AdminUser `json:"user"`
}

// AdminAuth は永続化される管理者認証情報。
type AdminAuth struct {
	StoreID string    `json:"storeId"`
	Token   string    `json:"token"`
	User    AdminUser `json:"user"`
}

// ValidateStoreID は店舗IDが空白でないことを検証する。
func ValidateStoreID(storeID string) bool {
	return strings.TrimSpace(storeID) != ""
}

// ValidateTableNumber はテーブル番号が1以上であることを検証する。
func ValidateTableNumber(n int) bool {
	return n >= 1
}

// ValidatePassword はパスワードが空でないことを検証する。
func ValidatePassword(password string) bool {
	return password != ""
}

// ValidateQuantity は数量が1〜99の範囲にあることを検証する。
func ValidateQuantity(q int) bool {
	return q >= MinQuantity && q <= MaxQuantity
}
