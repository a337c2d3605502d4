package board

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/tableorder/internal/events"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/storage"
)

func newTestBoard(mem *storage.MemoryStore) *Board {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(context.Background(), storage.NewSafeStore(mem, logger, nil), logger)
}

func created(id string, table int, at string) events.Event {
	return events.Event{
		Type:  events.EventOrderCreated,
		Order: model.Order{ID: id, TableNumber: table, CreatedAt: at, Status: model.OrderStatusPending},
	}
}

func TestBoard_Apply_UpsertAndDelete(t *testing.T) {
	b := newTestBoard(storage.NewMemoryStore())

	b.Apply(created("o1", 1, "2026-03-01T12:00:00"))
	b.Apply(created("o2", 2, "2026-03-01T12:01:00"))
	b.Apply(events.Event{
		Type:  events.EventOrderStatusChanged,
		Order: model.Order{ID: "o1", TableNumber: 1, CreatedAt: "2026-03-01T12:00:00", Status: model.OrderStatusPreparing},
	})

	orders := b.Orders()
	if len(orders) != 2 {
		t.Fatalf("注文数 = %d, want 2", len(orders))
	}
	if orders[0].ID != "o1" || orders[0].Status != model.OrderStatusPreparing {
		t.Errorf("orders[0] = %+v", orders[0])
	}

	b.Apply(events.Event{Type: events.EventOrderDeleted, OrderID: "o1"})
	b.Apply(events.Event{Type: events.EventOrderDeleted, OrderID: "missing"})

	orders = b.Orders()
	if len(orders) != 1 || orders[0].ID != "o2" {
		t.Errorf("削除後の注文 = %+v", orders)
	}
}

func TestBoard_DuplicateCreated_Collapses(t *testing.T) {
	b := newTestBoard(storage.NewMemoryStore())
	var notified int
	b.OnNewOrder(func(model.Order) { notified++ })

	b.Apply(created("o1", 1, "2026-03-01T12:00:00"))
	b.Apply(created("o1", 1, "2026-03-01T12:00:00"))

	if b.Len() != 1 {
		t.Errorf("注文数 = %d, want 1", b.Len())
	}
	if notified != 1 {
		t.Errorf("通知回数 = %d, want 1", notified)
	}
}

func TestBoard_StatusChangedBeforeCreated_LastWriteWins(t *testing.T) {
	b := newTestBoard(storage.NewMemoryStore())
	var notified int
	b.OnNewOrder(func(model.Order) { notified++ })

	b.Apply(events.Event{
		Type:  events.EventOrderStatusChanged,
		Order: model.Order{ID: "o1", Status: model.OrderStatusCompleted},
	})
	b.Apply(created("o1", 1, "2026-03-01T12:00:00"))

	orders := b.Orders()
	if len(orders) != 1 || orders[0].Status != model.OrderStatusPending {
		t.Errorf("orders = %+v, want latest write (pending)", orders)
	}
	if notified != 0 {
		t.Errorf("既知の注文で通知されました: %d", notified)
	}
}

func TestBoard_SoundToggle_GatesNotificationAndPersists(t *testing.T) {
	mem := storage.NewMemoryStore()
	b := newTestBoard(mem)
	var notified int
	b.OnNewOrder(func(model.Order) { notified++ })

	if !b.SoundEnabled() {
		t.Fatal("通知音はデフォルトで有効であるべきです")
	}
	if enabled := b.ToggleSound(context.Background()); enabled {
		t.Fatal("ToggleSound should disable sound")
	}

	b.Apply(created("o1", 1, "2026-03-01T12:00:00"))
	if notified != 0 {
		t.Errorf("通知音が無効なのに通知されました: %d", notified)
	}

	// 設定は再起動後も維持される
	if newTestBoard(mem).SoundEnabled() {
		t.Error("保存した通知音設定が復元されません")
	}
}

func TestBoard_SeedAndByTable(t *testing.T) {
	b := newTestBoard(storage.NewMemoryStore())
	var notified int
	b.OnNewOrder(func(model.Order) { notified++ })

	b.SeedTableOrders([]model.Order{
		{ID: "o3", TableNumber: 5, CreatedAt: "2026-03-01T12:05:00"},
		{ID: "o1", TableNumber: 5, CreatedAt: "2026-03-01T12:00:00"},
		{ID: "o2", TableNumber: 6, CreatedAt: "2026-03-01T12:01:00"},
		{ID: ""},
	})

	table5 := b.ByTable(5)
	if len(table5) != 2 || table5[0].ID != "o1" || table5[1].ID != "o3" {
		t.Errorf("ByTable(5) = %+v", table5)
	}
	if got := b.ByTable(9); len(got) != 0 {
		t.Errorf("ByTable(9) = %+v, want empty", got)
	}
	if b.Len() != 3 {
		t.Errorf("注文数 = %d, want 3", b.Len())
	}
	if notified != 0 {
		t.Errorf("取り込みで通知されました: %d", notified)
	}
}

func TestBoard_Upsert(t *testing.T) {
	b := newTestBoard(storage.NewMemoryStore())
	b.SeedTableOrders([]model.Order{{ID: "o1", Status: model.OrderStatusPending}})

	b.Upsert(model.Order{ID: "o1", Status: model.OrderStatusCompleted})

	if got := b.Orders()[0].Status; got != model.OrderStatusCompleted {
		t.Errorf("Status = %q, want completed", got)
	}
}
