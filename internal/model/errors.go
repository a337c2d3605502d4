// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// UIはこの分類によって再試行ボタンを出すか、確認のみとするかを決める。
type ErrorKind string

const (
	// ErrorKindNetwork は応答なし・通信失敗・タイムアウト。
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindSessionExpired はHTTP 401（セッション失効）。
	ErrorKindSessionExpired ErrorKind = "session_expired"
	// ErrorKindNotFound はHTTP 404。
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindValidation はHTTP 422およびクライアント側の入力検証エラー。
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindServer はHTTP 500およびその他のステータス。
	ErrorKindServer ErrorKind = "server"
	// ErrorKindStorage はローカル永続化（容量超過、JSONパース失敗等）のエラー。
	// 常に非致命的で、操作をブロックしない。
	ErrorKindStorage ErrorKind = "storage"
)

// APIError は統一エラーフォーマットを表す。
// API呼び出しが返すエラーは常にこの型であり、呼び出し元はerrors.Asで取り出せる。
type APIError struct {
	Kind      ErrorKind // エラー分類
	Code      string    // エラーコード
	Message   string    // エラーメッセージ
	Status    int       // HTTPステータス（応答がない場合は0）
	Retryable bool      // 再試行で回復しうるか
	Action    string    // ユーザー向け対処方法
	Err       error     // 原因
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNetwork          = "NETWORK_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeSessionExpired   = "SESSION_EXPIRED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeServer           = "SERVER_ERROR"
	ErrCodeStorage          = "STORAGE_ERROR"
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeEmptyCart        = "EMPTY_CART"
	ErrCodeInvalidQuantity  = "INVALID_QUANTITY"
	ErrCodeInvalidStatus    = "INVALID_STATUS_TRANSITION"
	ErrCodeInvalidImageURL  = "INVALID_IMAGE_URL"
)

// NewNetworkError は通信失敗エラーを生成する。
func NewNetworkError(err error) *APIError {
	return &APIError{
		Kind:      ErrorKindNetwork,
		Code:      ErrCodeNetwork,
		Message:   "サーバーに接続できませんでした。",
		Retryable: true,
		Action:    "ネットワーク接続を確認し、再度お試しください。",
		Err:       err,
	}
}

// NewTimeoutError はクライアント側タイムアウトのエラーを生成する。
// 分類はnetworkとして扱う。
func NewTimeoutError(err error) *APIError {
	return &APIError{
		Kind:      ErrorKindNetwork,
		Code:      ErrCodeTimeout,
		Message:   "サーバーの応答がタイムアウトしました。",
		Retryable: true,
		Action:    "しばらく待ってから再度お試しください。",
		Err:       err,
	}
}

// NewSessionExpiredError はセッション失効エラーを生成する。
func NewSessionExpiredError(message string) *APIError {
	if message == "" {
		message = "セッションの有効期限が切れました。"
	}
	return &APIError{
		Kind:      ErrorKindSessionExpired,
		Code:      ErrCodeSessionExpired,
		Message:   message,
		Status:    401,
		Retryable: false,
		Action:    "テーブルを再設定してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Kind:      ErrorKindNotFound,
		Code:      ErrCodeNotFound,
		Message:   message,
		Status:    404,
		Retryable: false,
		Action:    "入力内容を確認してください。",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(code, message string) *APIError {
	if code == "" {
		code = ErrCodeValidation
	}
	return &APIError{
		Kind:      ErrorKindValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
		Action:    "入力内容を確認してください。",
	}
}

// NewServerError はサーバーエラーを生成する。
func NewServerError(status int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("サーバーエラーが発生しました (HTTP %d)", status)
	}
	return &APIError{
		Kind:      ErrorKindServer,
		Code:      ErrCodeServer,
		Message:   message,
		Status:    status,
		Retryable: true,
		Action:    "しばらく待ってから再度お試しください。",
	}
}

// NewStorageError はローカル永続化エラーを生成する。
func NewStorageError(op string, err error) *APIError {
	return &APIError{
		Kind:      ErrorKindStorage,
		Code:      ErrCodeStorage,
		Message:   fmt.Sprintf("ローカルデータの%sに失敗しました。", op),
		Retryable: false,
		Action:    "端末の空き容量を確認してください。",
		Err:       err,
	}
}

// NewNotAuthenticatedError はテーブル未認証のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Kind:      ErrorKindSessionExpired,
		Code:      ErrCodeNotAuthenticated,
		Message:   "テーブルが認証されていません。",
		Status:    401,
		Retryable: false,
		Action:    "テーブルを設定してください。",
	}
}

// KindOf はエラーの分類を返す。APIError以外のエラーはserverとして扱う。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorKindServer
}

// IsRetryable はエラーが再試行可能かを返す。
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// AsAPIError はerrをAPIErrorに変換する。APIError以外は内部エラーとして包む。
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Kind:      ErrorKindServer,
		Code:      "INTERNAL_ERROR",
		Message:   "内部エラーが発生しました。",
		Retryable: true,
		Action:    "しばらく待ってから再度お試しください。",
		Err:       err,
	}
}
