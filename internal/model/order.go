// Package model はドメインモデルを定義する。
package model

import "encoding/json"

// CartItem はカートの1行を表す。
// Subtotalは変更のたびにPrice×Quantityで再計算される派生値。
type CartItem struct {
	MenuID   string `json:"menuId"`
	MenuName string `json:"menuName"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
	Subtotal int    `json:"subtotal"`
}

// OrderStatus は注文状態を表す。
type OrderStatus string

const (
	// OrderStatusPending は受付済み。
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPreparing は調理中。
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusCompleted は提供完了。
	OrderStatusCompleted OrderStatus = "completed"
)

// orderTransitions は許可された状態遷移。completedからは遷移できない。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCompleted},
	OrderStatusPreparing: {OrderStatusPending, OrderStatusCompleted},
	OrderStatusCompleted: {},
}

// IsValid は既知の注文状態かを返す。
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo は現在の状態からtargetへ遷移可能かを返す。
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// OrderItem は注文の1行を表す。
type OrderItem struct {
	MenuID   string `json:"menu_id"`
	MenuName string `json:"menu_name"`
	Price    int    `json:"price"`
	Quantity int    `json:"quantity"`
	Subtotal int    `json:"subtotal"`
}

// Order はバックエンドが作成した注文を表す。
type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"order_number"`
	StoreID     string      `json:"store_id"`
	TableNumber int         `json:"table_number"`
	SessionID   string      `json:"session_id"`
	Items       []OrderItem `json:"items"`
	TotalAmount int         `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
}

// OrderLine は注文作成リクエストの1行。
type OrderLine struct {
	MenuID   string `json:"menu_id"`
	Quantity int    `json:"quantity"`
}

// CreateOrderRequest は POST /tables/{n}/orders のリクエストボディ。
type CreateOrderRequest struct {
	SessionID string      `json:"session_id"`
	Items     []OrderLine `json:"items"`
}

// OrderHistory はセッション終了時にアーカイブされた注文履歴。
type OrderHistory struct {
	ID                 string  `json:"id"`
	StoreID            string  `json:"store_id"`
	TableNumber        int     `json:"table_number"`
	SessionID          string  `json:"session_id"`
	Orders             []Order `json:"orders"`
	TotalSessionAmount int     `json:"total_session_amount"`
	SessionStartedAt   string  `json:"session_started_at"`
	SessionEndedAt     string  `json:"session_ended_at"`
	ArchivedAt         string  `json:"archived_at"`
}

// OrderDeleted は order_deleted イベントのペイロード。
type OrderDeleted struct {
	OrderID string `json:"order_id"`
}

// AnalyticsReport は集計APIのレスポンス。形式はバックエンドに委ね、そのまま中継する。
type AnalyticsReport = json.RawMessage
