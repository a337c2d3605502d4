package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tableorder/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// retryableがtrueの場合、UIは再試行ボタンを表示する。falseの場合は確認のみとする。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
	Action    string `json:"action"`
}

// StatusForKind はエラー分類をローカルAPIのHTTPステータスに変換する。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.ErrorKindValidation:
		return http.StatusBadRequest
	case model.ErrorKindSessionExpired:
		return http.StatusUnauthorized
	case model.ErrorKindNotFound:
		return http.StatusNotFound
	case model.ErrorKindNetwork, model.ErrorKindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Kind:      string(apiErr.Kind),
		Retryable: apiErr.Retryable,
		Action:    apiErr.Action,
	})
}

// WriteError はerrを分類に応じたステータスで書き込む。
func WriteError(w http.ResponseWriter, err error) {
	apiErr := model.AsAPIError(err)
	WriteErrorResponse(w, StatusForKind(apiErr.Kind), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Kind:      model.ErrorKindServer,
		Code:      "INTERNAL_ERROR",
		Message:   "内部エラーが発生しました。",
		Retryable: true,
		Action:    "しばらく待ってから再度お試しください。",
	})
}
