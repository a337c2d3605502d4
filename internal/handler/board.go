package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tableorder/internal/middleware"
	"github.com/hitoshi/tableorder/internal/model"
)

// BoardView は注文ボードの読み書き。*board.Boardが実装する。
type BoardView interface {
	Orders() []model.Order
	ByTable(tableNumber int) []model.Order
	Get(orderID string) (model.Order, bool)
	Upsert(order model.Order)
	Remove(orderID string)
	SoundEnabled() bool
	ToggleSound(ctx context.Context) bool
}

// OrderAdmin は管理者の注文操作。*api.AdminClientが実装する。
type OrderAdmin interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

// AdminSessions は管理者のログイン状態。*auth.AdminManagerが実装する。
type AdminSessions interface {
	Login(ctx context.Context, storeID, username, password string) (*model.AdminAuth, error)
	Logout(ctx context.Context)
	Current() (model.AdminAuth, bool)
}

// BoardHandler は注文ボード向けのHTTPハンドラー。
type BoardHandler struct {
	admins AdminSessions
	board  BoardView
	orders OrderAdmin
}

// NewBoardHandler はBoardHandlerを生成する。
func NewBoardHandler(admins AdminSessions, board BoardView, orders OrderAdmin) *BoardHandler {
	return &BoardHandler{admins: admins, board: board, orders: orders}
}

type adminLoginRequest struct {
	StoreID  string `json:"store_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminResponse はログイン中の管理者。トークンは返さない。
type adminResponse struct {
	LoggedIn bool             `json:"logged_in"`
	StoreID  string           `json:"store_id,omitempty"`
	User     *model.AdminUser `json:"user,omitempty"`
}

func toAdminResponse(a model.AdminAuth, ok bool) adminResponse {
	if !ok {
		return adminResponse{}
	}
	user := a.User
	return adminResponse{LoggedIn: true, StoreID: a.StoreID, User: &user}
}

// GetAdmin はログイン中の管理者を返す。
// GET /api/board/session
func (h *BoardHandler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAdminResponse(h.admins.Current()))
}

// Login は管理者ログインを行う。
// POST /api/board/session/login
func (h *BoardHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	auth, err := h.admins.Login(r.Context(), req.StoreID, req.Username, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminResponse(*auth, true))
}

// Logout は管理者をログアウトさせる。
// POST /api/board/session/logout
func (h *BoardHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.admins.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type updateStatusRequest struct {
	Status model.OrderStatus `json:"status"`
}

type soundResponse struct {
	Enabled bool `json:"enabled"`
}

// ListOrders はボード上の注文を作成日時順に返す。?table=n でテーブルを絞り込める。
// GET /api/board/orders
func (h *BoardHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []model.Order
	if raw := r.URL.Query().Get("table"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !model.ValidateTableNumber(n) {
			middleware.WriteError(w, model.NewValidationError(model.ErrCodeValidation, "テーブル番号が不正です。"))
			return
		}
		orders = h.board.ByTable(n)
	} else {
		orders = h.board.Orders()
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// UpdateOrderStatus は注文状態を変更する。
// ボード上の現在の状態から遷移できない場合は送信前に拒否する。
// PATCH /api/board/orders/{orderID}/status
func (h *BoardHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if current, ok := h.board.Get(orderID); ok && !current.Status.CanTransitionTo(req.Status) {
		middleware.WriteError(w, model.NewValidationError(model.ErrCodeInvalidStatus,
			"この注文は "+string(current.Status)+" から "+string(req.Status)+" に変更できません。"))
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.board.Upsert(*order)
	writeJSON(w, http.StatusOK, order)
}

// DeleteOrder は注文を削除する。
// DELETE /api/board/orders/{orderID}
func (h *BoardHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if err := h.orders.DeleteOrder(r.Context(), orderID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.board.Remove(orderID)
	w.WriteHeader(http.StatusNoContent)
}

// GetSound は新規注文の通知設定を返す。
// GET /api/board/sound
func (h *BoardHandler) GetSound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, soundResponse{Enabled: h.board.SoundEnabled()})
}

// ToggleSound は新規注文の通知を切り替える。
// POST /api/board/sound/toggle
func (h *BoardHandler) ToggleSound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, soundResponse{Enabled: h.board.ToggleSound(r.Context())})
}
