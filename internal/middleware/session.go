// Package middleware はローカルHTTP APIのミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey = contextKey("table_session")
	holderContextKey  = contextKey("session_holder")
)

// SessionChecker は現在のテーブルセッションを返す。auth.Managerが実装する。
type SessionChecker interface {
	CurrentSession() (api.SessionRef, bool)
}

// TokenChecker は管理者トークンの有無を返す。auth.AdminManagerが実装する。
type TokenChecker interface {
	Token() (storeID, token string, ok bool)
}

// sessionHolder はロギングミドルウェアへテーブル情報を受け渡す。
type sessionHolder struct {
	ref api.SessionRef
	ok  bool
}

func contextWithHolder(ctx context.Context, h *sessionHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// NewRequireTableSession はテーブルが認証済みの場合のみ後続に渡すミドルウェアを返す。
// 未認証の場合は401を返す。セッションはリクエストコンテキストに注入する。
func NewRequireTableSession(sessions SessionChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref, ok := sessions.CurrentSession()
			if !ok {
				WriteError(w, model.NewNotAuthenticatedError())
				return
			}

			if h, _ := r.Context().Value(holderContextKey).(*sessionHolder); h != nil {
				h.ref, h.ok = ref, true
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), ref)))
		})
	}
}

// NewRequireAdmin は管理者がログイン済みの場合のみ後続に渡すミドルウェアを返す。
func NewRequireAdmin(tokens TokenChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, _, ok := tokens.Token(); !ok {
				WriteError(w, model.NewNotAuthenticatedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからテーブルセッションを取得する。
// NewRequireTableSessionを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (api.SessionRef, bool) {
	ref, ok := ctx.Value(sessionContextKey).(api.SessionRef)
	return ref, ok
}

// ContextWithSession はコンテキストにテーブルセッションを注入する。
func ContextWithSession(ctx context.Context, ref api.SessionRef) context.Context {
	return context.WithValue(ctx, sessionContextKey, ref)
}
