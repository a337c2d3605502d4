// Package cart はテーブルごとのカートを管理する。
package cart

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/tableorder/internal/auth"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

type scope struct {
	storeID     string
	tableNumber int
}

// Manager はアクティブなテーブルのカートを保持し、変更のたびに永続化する。
// 永続化の失敗はカートの変更を妨げない。
type Manager struct {
	store  *storage.SafeStore
	logger *slog.Logger

	// OnStorageError は永続化に失敗したときに呼ばれる（任意）。
	OnStorageError func(err error)

	mu      sync.Mutex
	scope   *scope
	items   []model.CartItem
	unsaved bool
}

// NewManager はManagerを生成する。スコープが設定されるまでカートは空。
func NewManager(store *storage.SafeStore, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// SetScope はカートの対象テーブルを切り替え、保存済みのカートを復元する。
// 同じテーブルが指定された場合は何もしない。
func (m *Manager) SetScope(ctx context.Context, storeID string, tableNumber int) Cart {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := scope{storeID: storeID, tableNumber: tableNumber}
	if m.scope != nil && *m.scope == next {
		return newCart(m.items)
	}

	m.scope = &next
	m.items = nil
	m.unsaved = false

	var saved []model.CartItem
	if m.store.GetJSON(ctx, storage.CartKey(storeID, tableNumber), &saved) {
		m.items = reduce(nil, restoreCart{items: saved})
		m.logger.Debug("カートを復元しました",
			slog.String("store_id", storeID),
			slog.Int("table_number", tableNumber),
			slog.Int("lines", len(m.items)),
		)
	}
	return newCart(m.items)
}

// ResetScope はメモリ上のカートを破棄する。保存済みのカートは残す。
func (m *Manager) ResetScope() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scope = nil
	m.items = nil
	m.unsaved = false
}

// Follow はセッション状態に合わせてスコープを切り替える。
// 戻り値の関数で購読を解除する。
func (m *Manager) Follow(ctx context.Context, sessions SessionNotifier) (unsubscribe func()) {
	apply := func(s auth.State) {
		switch {
		case s.HasSession():
			m.SetScope(ctx, s.StoreID, s.TableNumber)
		case s.Status == auth.StatusLoggedOut:
			m.ResetScope()
		}
	}
	unsubscribe = sessions.Subscribe(apply)
	apply(sessions.Snapshot())
	return unsubscribe
}

// SessionNotifier はセッション状態の通知元。*auth.Managerが実装する。
type SessionNotifier interface {
	Subscribe(fn func(auth.State)) func()
	Snapshot() auth.State
}

// AddItem はメニューをqty個追加する。同じメニューの行があれば数量を加算し、99で丸める。
func (m *Manager) AddItem(ctx context.Context, menuID, menuName string, price, qty int) (Cart, error) {
	switch {
	case menuID == "":
		return m.Snapshot(), model.NewValidationError(model.ErrCodeValidation, "メニューIDが指定されていません。")
	case price < 0:
		return m.Snapshot(), model.NewValidationError(model.ErrCodeValidation, "価格が不正です。")
	case qty < model.MinQuantity:
		return m.Snapshot(), model.NewValidationError(model.ErrCodeInvalidQuantity, "数量は1以上で指定してください。")
	}
	return m.apply(ctx, addItem{menuID: menuID, menuName: menuName, price: price, quantity: qty})
}

// AddOne はメニューを1個追加する。
func (m *Manager) AddOne(ctx context.Context, menuID, menuName string, price int) (Cart, error) {
	return m.AddItem(ctx, menuID, menuName, price, 1)
}

// UpdateQuantity は数量を置き換える。0以下で行を削除し、99を超える値は受け付けない。
func (m *Manager) UpdateQuantity(ctx context.Context, menuID string, qty int) (Cart, error) {
	if qty > model.MaxQuantity {
		return m.Snapshot(), model.NewValidationError(model.ErrCodeInvalidQuantity, "数量は99以下で指定してください。")
	}
	return m.apply(ctx, updateQuantity{menuID: menuID, quantity: qty})
}

// RemoveItem は行を削除する。
func (m *Manager) RemoveItem(ctx context.Context, menuID string) (Cart, error) {
	return m.apply(ctx, removeItem{menuID: menuID})
}

// ClearCart はカートを空にし、保存済みのカートも削除する。
func (m *Manager) ClearCart(ctx context.Context) (Cart, error) {
	return m.apply(ctx, clearCart{})
}

// RemoveOrdered は注文済みの行の数量を最新のカートから差し引く。
// 注文の送信中に追加・変更された分はカートに残る。
func (m *Manager) RemoveOrdered(ctx context.Context, lines []model.OrderLine) (Cart, error) {
	return m.apply(ctx, removeOrdered{lines: lines})
}

// Snapshot は現在のカートのコピーを返す。
func (m *Manager) Snapshot() Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Cart {
	c := newCart(m.items)
	c.Unsaved = m.unsaved
	return c
}

// ItemQuantity はメニューの現在の数量を返す。カートに無ければ0。
func (m *Manager) ItemQuantity(menuID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := indexOf(m.items, menuID); i >= 0 {
		return m.items[i].Quantity
	}
	return 0
}

// apply はロック内で最新の状態にaを適用して永続化する。
func (m *Manager) apply(ctx context.Context, a action) (Cart, error) {
	m.mu.Lock()
	if m.scope == nil {
		m.mu.Unlock()
		return Cart{}, model.NewNotAuthenticatedError()
	}

	m.items = reduce(m.items, a)
	storeErr := m.persistLocked(ctx)
	m.unsaved = storeErr != nil
	snapshot := m.snapshotLocked()
	hook := m.OnStorageError
	m.mu.Unlock()

	if storeErr != nil && hook != nil {
		hook(storeErr)
	}
	return snapshot, nil
}

// persistLocked は空でなければ保存し、空ならキーを削除する。
func (m *Manager) persistLocked(ctx context.Context) error {
	key := storage.CartKey(m.scope.storeID, m.scope.tableNumber)
	if len(m.items) == 0 {
		return m.store.Remove(ctx, key)
	}
	return m.store.SetJSON(ctx, key, m.items)
}
