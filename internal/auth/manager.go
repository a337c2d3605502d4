// Package auth はテーブルセッションと管理者認証の管理を提供する。
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

// Authenticator はテーブル認証エンドポイントの呼び出し。*api.Clientが実装する。
type Authenticator interface {
	AuthenticateTable(ctx context.Context, storeID string, tableNumber int, password string) (*model.TableAuthResponse, error)
}

// Config はセッション管理の設定。
type Config struct {
	CheckInterval time.Duration // 有効期限チェックの間隔（デフォルト60秒）
	RefreshBefore time.Duration // 期限のこの時間前から更新する（デフォルト15分）
}

// Manager はアクティブなテーブルの認証セッションを1つ保持し、
// 期限前の更新と依存コンポーネントへの通知を行う。
type Manager struct {
	authenticator Authenticator
	store         *storage.SafeStore
	logger        *slog.Logger
	config        Config
	now           func() time.Time

	mu     sync.Mutex
	state  State
	creds  *model.Credentials
	subs   map[int]func(State)
	nextID int

	// renewMu は同時に1つの更新だけが実行されるようにする
	renewMu sync.Mutex

	watchMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager はManagerを生成する。状態はUninitializedから始まる。
func NewManager(authenticator Authenticator, store *storage.SafeStore, logger *slog.Logger, config Config) *Manager {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 60 * time.Second
	}
	if config.RefreshBefore <= 0 {
		config.RefreshBefore = 15 * time.Minute
	}
	return &Manager{
		authenticator: authenticator,
		store:         store,
		logger:        logger,
		config:        config,
		now:           time.Now,
		state:         State{Status: StatusUninitialized},
		subs:          make(map[int]func(State)),
	}
}

// Snapshot は現在の状態のコピーを返す。
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe は状態遷移のたびにfnを呼び出すよう登録し、登録解除の関数を返す。
// fnはロック外で呼び出されるため、fnからManagerのメソッドを呼んでよい。
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// dispatch はactionを適用し、状態が変わった場合は購読者に通知する。
func (m *Manager) dispatch(a action) State {
	m.mu.Lock()
	prev := m.state
	next := reduce(prev, a)
	m.state = next
	var subs []func(State)
	if next != prev {
		subs = make([]func(State), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// SetupTable はテーブル認証を行い、成功した場合のみ認証情報を保存する。
// 入力が不正な場合は通信せずにvalidationエラーを返す。
func (m *Manager) SetupTable(ctx context.Context, storeID string, tableNumber int, password string) error {
	switch {
	case !model.ValidateStoreID(storeID):
		return model.NewValidationError(model.ErrCodeValidation, "店舗IDを入力してください。")
	case !model.ValidateTableNumber(tableNumber):
		return model.NewValidationError(model.ErrCodeValidation, "テーブル番号は1以上で指定してください。")
	case !model.ValidatePassword(password):
		return model.NewValidationError(model.ErrCodeValidation, "パスワードを入力してください。")
	}

	creds := model.Credentials{StoreID: storeID, TableNumber: tableNumber, Password: password}

	// 更新中に再設定すると更新結果で上書きされるため、更新と直列にする
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	m.dispatch(loginStarted{})
	resp, err := m.authenticator.AuthenticateTable(ctx, storeID, tableNumber, password)
	if err != nil {
		m.dispatch(loginFailed{})
		m.logger.Warn("テーブル認証に失敗しました",
			slog.String("store_id", storeID),
			slog.Int("table_number", tableNumber),
			slog.String("error_kind", string(model.KindOf(err))),
		)
		return model.AsAPIError(err)
	}

	// 保存の失敗はログのみ。認証自体は成功として扱う
	_ = m.store.SetJSON(ctx, storage.CredentialsKey(), creds)

	m.mu.Lock()
	m.creds = &creds
	m.mu.Unlock()

	m.dispatch(loginSucceeded{
		storeID:     storeID,
		tableNumber: tableNumber,
		session:     model.Session{SessionID: resp.SessionID, ExpiresAt: resp.ExpiresAt},
	})
	m.logger.Info("テーブル認証が完了しました",
		slog.String("store_id", storeID),
		slog.Int("table_number", tableNumber),
		slog.Time("expires_at", resp.ExpiresAt),
	)
	return nil
}

// AutoLogin は起動時に1回だけ呼び出し、保存済みの認証情報で再認証する。
// 失敗した場合は保存済みの認証情報を削除してLoggedOutになり、エラーは返さない。
func (m *Manager) AutoLogin(ctx context.Context) {
	if m.Snapshot().Status != StatusUninitialized {
		return
	}

	var creds model.Credentials
	if !m.store.GetJSON(ctx, storage.CredentialsKey(), &creds) ||
		!model.ValidateStoreID(creds.StoreID) || !model.ValidateTableNumber(creds.TableNumber) {
		m.dispatch(loggedOut{})
		return
	}

	m.dispatch(loginStarted{})
	resp, err := m.authenticator.AuthenticateTable(ctx, creds.StoreID, creds.TableNumber, creds.Password)
	if err != nil {
		_ = m.store.Remove(ctx, storage.CredentialsKey())
		m.dispatch(loginFailed{})
		m.logger.Info("保存済みの認証情報で再認証できなかったため破棄しました",
			slog.String("store_id", creds.StoreID),
			slog.Int("table_number", creds.TableNumber),
			slog.String("error_kind", string(model.KindOf(err))),
		)
		return
	}

	m.mu.Lock()
	m.creds = &creds
	m.mu.Unlock()

	m.dispatch(loginSucceeded{
		storeID:     creds.StoreID,
		tableNumber: creds.TableNumber,
		session:     model.Session{SessionID: resp.SessionID, ExpiresAt: resp.ExpiresAt},
	})
	m.logger.Info("保存済みの認証情報で自動ログインしました",
		slog.String("store_id", creds.StoreID),
		slog.Int("table_number", creds.TableNumber),
	)
}

// Renew は保存済みの認証情報で再認証し、セッションと期限をその場で更新する。
// 更新に失敗した場合はログアウトしてエラーを返す。
func (m *Manager) Renew(ctx context.Context) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()
	return m.renewLocked(ctx)
}

// RenewStale はセッション世代がまだstaleの場合だけ再認証する。
// 待っている間に別の更新や再設定が済んでいれば、認証APIを呼ばずにnilを返す。
// 先行した更新が失敗してログアウト済みの場合はsession_expiredを返す。
func (m *Manager) RenewStale(ctx context.Context, stale uint64) error {
	m.renewMu.Lock()
	defer m.renewMu.Unlock()

	s := m.Snapshot()
	if !s.HasSession() {
		return model.NewSessionExpiredError("")
	}
	if s.Generation != stale {
		return nil
	}
	return m.renewLocked(ctx)
}

// renewLocked はrenewMuを保持した状態で呼び出す。
func (m *Manager) renewLocked(ctx context.Context) error {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()

	if creds == nil || m.dispatch(refreshStarted{}).Status != StatusRefreshing {
		return model.NewNotAuthenticatedError()
	}

	resp, err := m.authenticator.AuthenticateTable(ctx, creds.StoreID, creds.TableNumber, creds.Password)
	if err != nil {
		m.logger.Warn("セッションの更新に失敗したためログアウトします",
			slog.String("store_id", creds.StoreID),
			slog.Int("table_number", creds.TableNumber),
			slog.String("error_kind", string(model.KindOf(err))),
		)
		m.Logout(ctx)
		return model.AsAPIError(err)
	}

	m.dispatch(refreshSucceeded{
		session: model.Session{SessionID: resp.SessionID, ExpiresAt: resp.ExpiresAt},
	})
	m.logger.Info("セッションを更新しました",
		slog.String("store_id", creds.StoreID),
		slog.Int("table_number", creds.TableNumber),
		slog.Time("expires_at", resp.ExpiresAt),
	)
	return nil
}

// Logout は保存済みの認証情報を削除して初期状態に戻す。何度呼んでもよい。
func (m *Manager) Logout(ctx context.Context) {
	_ = m.store.Remove(ctx, storage.CredentialsKey())

	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()

	if prev := m.Snapshot(); prev.Status != StatusLoggedOut {
		m.logger.Info("ログアウトしました",
			slog.String("store_id", prev.StoreID),
			slog.Int("table_number", prev.TableNumber),
		)
	}
	m.dispatch(loggedOut{})
}

// CurrentSession はapi.SessionSourceを実装する。
func (m *Manager) CurrentSession() (api.SessionRef, bool) {
	s := m.Snapshot()
	if !s.HasSession() {
		return api.SessionRef{}, false
	}
	return api.SessionRef{
		StoreID:     s.StoreID,
		TableNumber: s.TableNumber,
		SessionID:   s.Session.SessionID,
		Generation:  s.Generation,
	}, true
}

// Expire はapi.SessionSourceを実装する。更新後も401となった場合に呼ばれる。
func (m *Manager) Expire(ctx context.Context) {
	m.Logout(ctx)
}

var _ api.SessionSource = (*Manager)(nil)
