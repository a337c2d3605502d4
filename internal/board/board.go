// Package board は店舗の注文をイベントストリームから集約し、管理画面向けに保持する。
package board

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/hitoshi/tableorder/internal/events"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

// soundPreference は通知音設定の保存形式。
type soundPreference struct {
	Enabled bool `json:"enabled"`
}

// Board は注文IDをキーとした注文一覧。
// created/status_changedはIDで上書きし、deletedはIDで削除する。同じIDは後勝ち。
type Board struct {
	store  *storage.SafeStore
	logger *slog.Logger

	mu           sync.RWMutex
	orders       map[string]model.Order
	soundEnabled bool
	onNewOrder   func(model.Order)
}

// New はBoardを生成し、保存済みの通知音設定を読み込む。設定が無い場合は有効。
func New(ctx context.Context, store *storage.SafeStore, logger *slog.Logger) *Board {
	pref := soundPreference{Enabled: true}
	store.GetJSON(ctx, storage.SoundPreferenceKey(), &pref)
	return &Board{
		store:        store,
		logger:       logger,
		orders:       make(map[string]model.Order),
		soundEnabled: pref.Enabled,
	}
}

// OnNewOrder は新しい注文を受信したときの通知先を設定する。
// 通知音が無効の場合は呼ばれない。
func (b *Board) OnNewOrder(fn func(model.Order)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onNewOrder = fn
}

// Apply はイベントを反映する。events.Subscriptionのコールバックとして使う。
func (b *Board) Apply(ev events.Event) {
	switch ev.Type {
	case events.EventOrderCreated:
		b.upsert(ev.Order, true)
	case events.EventOrderStatusChanged:
		b.upsert(ev.Order, false)
	case events.EventOrderDeleted:
		b.Remove(ev.OrderID)
	}
}

// Upsert は注文を追加または上書きする。管理APIで状態を更新した直後に使う。
func (b *Board) Upsert(order model.Order) {
	b.upsert(order, false)
}

func (b *Board) upsert(order model.Order, created bool) {
	b.mu.Lock()
	_, exists := b.orders[order.ID]
	b.orders[order.ID] = order
	notify := created && !exists && b.soundEnabled && b.onNewOrder != nil
	fn := b.onNewOrder
	b.mu.Unlock()

	if created && !exists {
		b.logger.Info("新しい注文を受信しました",
			slog.String("order_id", order.ID),
			slog.String("order_number", order.OrderNumber),
			slog.Int("table_number", order.TableNumber),
		)
	}
	if notify {
		fn(order)
	}
}

// Remove は注文を削除する。存在しないIDは無視する。
func (b *Board) Remove(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, orderID)
}

// SeedTableOrders は管理APIで取得したテーブルの注文一覧を取り込む。
// 通知は行わない。
func (b *Board) SeedTableOrders(orders []model.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if o.ID != "" {
			b.orders[o.ID] = o
		}
	}
}

// Orders は全注文を作成日時順に返す。
func (b *Board) Orders() []model.Order {
	b.mu.RLock()
	orders := make([]model.Order, 0, len(b.orders))
	for _, o := range b.orders {
		orders = append(orders, o)
	}
	b.mu.RUnlock()

	sortOrders(orders)
	return orders
}

// ByTable はテーブル番号の注文を作成日時順に返す。
func (b *Board) ByTable(tableNumber int) []model.Order {
	b.mu.RLock()
	var orders []model.Order
	for _, o := range b.orders {
		if o.TableNumber == tableNumber {
			orders = append(orders, o)
		}
	}
	b.mu.RUnlock()

	sortOrders(orders)
	return orders
}

// Get はIDの注文を返す。
func (b *Board) Get(orderID string) (model.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// Len は保持している注文数を返す。
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// SoundEnabled は通知音が有効かを返す。
func (b *Board) SoundEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.soundEnabled
}

// ToggleSound は通知音の有効・無効を切り替えて保存し、切り替え後の値を返す。
func (b *Board) ToggleSound(ctx context.Context) bool {
	b.mu.Lock()
	b.soundEnabled = !b.soundEnabled
	enabled := b.soundEnabled
	b.mu.Unlock()

	_ = b.store.SetJSON(ctx, storage.SoundPreferenceKey(), soundPreference{Enabled: enabled})
	return enabled
}

// sortOrders は作成日時（ISO 8601文字列）、同時刻はIDの順に並べる。
func sortOrders(orders []model.Order) {
	slices.SortFunc(orders, func(a, b model.Order) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
