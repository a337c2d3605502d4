package auth

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

// AdminAuthenticator は管理者ログイン・ログアウトの呼び出し。*api.Clientが実装する。
type AdminAuthenticator interface {
	AdminLogin(ctx context.Context, storeID, username, password string) (*model.AdminLoginResponse, error)
	AdminLogout(ctx context.Context, storeID, token string) error
}

// AdminManager は管理者のBearerトークンを保持・永続化する。
type AdminManager struct {
	authenticator AdminAuthenticator
	store         *storage.SafeStore
	logger        *slog.Logger

	mu      sync.RWMutex
	current *model.AdminAuth
}

// NewAdminManager はAdminManagerを生成する。
func NewAdminManager(authenticator AdminAuthenticator, store *storage.SafeStore, logger *slog.Logger) *AdminManager {
	return &AdminManager{
		authenticator: authenticator,
		store:         store,
		logger:        logger,
	}
}

// Restore は保存済みの管理者認証情報を読み込む。見つかった場合はtrueを返す。
func (m *AdminManager) Restore(ctx context.Context) bool {
	var saved model.AdminAuth
	if !m.store.GetJSON(ctx, storage.AdminAuthKey(), &saved) || saved.Token == "" {
		return false
	}
	m.mu.Lock()
	m.current = &saved
	m.mu.Unlock()
	return true
}

// Login は管理者ログインを行い、取得したトークンを保存する。
func (m *AdminManager) Login(ctx context.Context, storeID, username, password string) (*model.AdminAuth, error) {
	if !model.ValidateStoreID(storeID) || username == "" || password == "" {
		return nil, model.NewValidationError(model.ErrCodeValidation, "店舗ID・ユーザー名・パスワードを入力してください。")
	}

	resp, err := m.authenticator.AdminLogin(ctx, storeID, username, password)
	if err != nil {
		m.logger.Warn("管理者ログインに失敗しました",
			slog.String("store_id", storeID),
			slog.String("username", username),
			slog.String("error_kind", string(model.KindOf(err))),
		)
		return nil, model.AsAPIError(err)
	}

	auth := model.AdminAuth{StoreID: storeID, Token: resp.Token, User: resp.User}
	_ = m.store.SetJSON(ctx, storage.AdminAuthKey(), auth)

	m.mu.Lock()
	m.current = &auth
	m.mu.Unlock()

	m.logger.Info("管理者がログインしました",
		slog.String("store_id", storeID),
		slog.String("username", resp.User.Username),
	)
	return &auth, nil
}

// Logout はバックエンドへログアウトを通知し、ローカルの認証情報を破棄する。
// 通知の失敗はログのみで、ローカルの破棄は常に行う。
func (m *AdminManager) Logout(ctx context.Context) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()

	if current != nil {
		if err := m.authenticator.AdminLogout(ctx, current.StoreID, current.Token); err != nil {
			m.logger.Warn("管理者ログアウトの通知に失敗しました",
				slog.String("store_id", current.StoreID),
				slog.String("error", err.Error()),
			)
		}
	}
	m.Invalidate(ctx)
}

// Current は現在の管理者認証情報を返す。
func (m *AdminManager) Current() (model.AdminAuth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return model.AdminAuth{}, false
	}
	return *m.current, true
}

// Token はapi.TokenSourceを実装する。
func (m *AdminManager) Token() (storeID, token string, ok bool) {
	auth, ok := m.Current()
	return auth.StoreID, auth.Token, ok
}

// Invalidate はapi.TokenSourceを実装する。ローカルの認証情報を破棄する。
func (m *AdminManager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	_ = m.store.Remove(ctx, storage.AdminAuthKey())
}

var _ api.TokenSource = (*AdminManager)(nil)
