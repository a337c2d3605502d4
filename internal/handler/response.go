// Package handler はキオスク端末と注文ボード向けのローカルHTTP APIを提供する。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tableorder/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 64 << 10

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstにデコードする。
// 不正なJSONはバリデーションエラーとして返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError(model.ErrCodeValidation, "リクエストボディが不正です。")
	}
	return nil
}

// healthResponse は GET /health のレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
