package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/hitoshi/tableorder/internal/model"
)

// Classify はHTTPステータスコードをエラー分類に変換する。
//
//	401 → session_expired（再試行不可、更新の契機）
//	404 → not_found
//	422 → validation
//	500/その他 → server（再試行可能）
func Classify(statusCode int, detail string) *model.APIError {
	switch statusCode {
	case http.StatusUnauthorized:
		return model.NewSessionExpiredError(detail)
	case http.StatusNotFound:
		if detail == "" {
			detail = "対象が見つかりませんでした。"
		}
		return model.NewNotFoundError(detail)
	case http.StatusUnprocessableEntity:
		if detail == "" {
			detail = "入力内容に誤りがあります。"
		}
		e := model.NewValidationError(model.ErrCodeValidation, detail)
		e.Status = statusCode
		return e
	default:
		return model.NewServerError(statusCode, detail)
	}
}

// ClassifyTransportError は応答が得られなかった失敗をnetwork種別に変換する。
// クライアント側のタイムアウトはTIMEOUTコードで区別する。
func ClassifyTransportError(err error) *model.APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewTimeoutError(err)
	}
	return model.NewNetworkError(err)
}

// parseDetail はバックエンドのエラーボディ {"detail": ...} からメッセージを取り出す。
// detailは文字列、または {"msg": ...} の配列（入力検証エラー）を想定する。
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &list); err == nil {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return ""
}
