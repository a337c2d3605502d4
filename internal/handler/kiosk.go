package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tableorder/internal/auth"
	"github.com/hitoshi/tableorder/internal/cart"
	"github.com/hitoshi/tableorder/internal/middleware"
	"github.com/hitoshi/tableorder/internal/model"
)

// SessionService はテーブルセッションの操作。*auth.Managerが実装する。
type SessionService interface {
	Snapshot() auth.State
	SetupTable(ctx context.Context, storeID string, tableNumber int, password string) error
	Logout(ctx context.Context)
}

// MenuLister はメニュー一覧の取得。*api.TableClientが実装する。
type MenuLister interface {
	GetMenus(ctx context.Context, category string) ([]model.Menu, error)
}

// CartService はカート操作。*cart.Managerが実装する。
type CartService interface {
	Snapshot() cart.Cart
	AddItem(ctx context.Context, menuID, menuName string, price, qty int) (cart.Cart, error)
	UpdateQuantity(ctx context.Context, menuID string, qty int) (cart.Cart, error)
	RemoveItem(ctx context.Context, menuID string) (cart.Cart, error)
	ClearCart(ctx context.Context) (cart.Cart, error)
}

// OrderService は注文確定と履歴。*order.Serviceが実装する。
type OrderService interface {
	PlaceOrder(ctx context.Context) (*model.Order, error)
	History(ctx context.Context) (orders []model.Order, stale bool, err error)
}

// KioskHandler はテーブル端末向けのHTTPハンドラー。
type KioskHandler struct {
	sessions SessionService
	menus    MenuLister
	cart     CartService
	orders   OrderService
}

// NewKioskHandler はKioskHandlerを生成する。
func NewKioskHandler(sessions SessionService, menus MenuLister, cartService CartService, orders OrderService) *KioskHandler {
	return &KioskHandler{
		sessions: sessions,
		menus:    menus,
		cart:     cartService,
		orders:   orders,
	}
}

// sessionResponse はテーブルセッションの状態。セッションIDは返さない。
type sessionResponse struct {
	Status      string     `json:"status"`
	StoreID     string     `json:"store_id,omitempty"`
	TableNumber int        `json:"table_number,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type setupRequest struct {
	StoreID     string `json:"store_id"`
	TableNumber int    `json:"table_number"`
	Password    string `json:"password"`
}

type addItemRequest struct {
	MenuID   string `json:"menu_id"`
	MenuName string `json:"menu_name"`
	Price    int    `json:"price"`
	Quantity *int   `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type historyResponse struct {
	Orders []model.Order `json:"orders"`
	Stale  bool          `json:"stale"`
}

func toSessionResponse(s auth.State) sessionResponse {
	resp := sessionResponse{Status: string(s.Status)}
	if s.HasSession() {
		resp.StoreID = s.StoreID
		resp.TableNumber = s.TableNumber
		expiresAt := s.Session.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

// GetSession は現在のセッション状態を返す。
// GET /api/session
func (h *KioskHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.sessions.Snapshot()))
}

// SetupTable は初回設定としてテーブル認証を行う。
// POST /api/session/setup
func (h *KioskHandler) SetupTable(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.sessions.SetupTable(r.Context(), req.StoreID, req.TableNumber, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(h.sessions.Snapshot()))
}

// Logout はテーブルセッションを終了する。
// POST /api/session/logout
func (h *KioskHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ListMenus はメニュー一覧を返す。?category= で絞り込める。
// GET /api/menus
func (h *KioskHandler) ListMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := h.menus.GetMenus(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if menus == nil {
		menus = []model.Menu{}
	}
	writeJSON(w, http.StatusOK, menus)
}

// GetCart は現在のカートを返す。
// GET /api/cart
func (h *KioskHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cart.Snapshot())
}

// AddCartItem はカートにメニューを追加する。数量を省略した場合は1とする。
// POST /api/cart/items
func (h *KioskHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	c, err := h.cart.AddItem(r.Context(), req.MenuID, req.MenuName, req.Price, qty)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCartItem はカート行の数量を変更する。0以下は削除になる。
// PUT /api/cart/items/{menuID}
func (h *KioskHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	c, err := h.cart.UpdateQuantity(r.Context(), chi.URLParam(r, "menuID"), req.Quantity)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RemoveCartItem はカート行を削除する。
// DELETE /api/cart/items/{menuID}
func (h *KioskHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.cart.RemoveItem(r.Context(), chi.URLParam(r, "menuID"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ClearCart はカートを空にする。
// DELETE /api/cart
func (h *KioskHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cart.ClearCart(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PlaceOrder は現在のカートで注文する。
// POST /api/orders
func (h *KioskHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.PlaceOrder(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders は現在のセッションの注文履歴を返す。
// バックエンドに到達できない場合はキャッシュを返し、stale=trueとする。
// GET /api/orders
func (h *KioskHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, stale, err := h.orders.History(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Orders: orders, Stale: stale})
}
