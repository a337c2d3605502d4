package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/middleware"
)

// CommonDeps はキオスクと注文ボードで共通のミドルウェア依存。
type CommonDeps struct {
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilなら /metrics を公開しない
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
}

// KioskDeps はNewKioskRouterに必要な依存関係をまとめた構造体。
type KioskDeps struct {
	CommonDeps

	Sessions       SessionService
	SessionChecker middleware.SessionChecker
	Menus          MenuLister
	Cart           CartService
	Orders         OrderService
}

// BoardDeps はNewBoardRouterに必要な依存関係をまとめた構造体。
type BoardDeps struct {
	CommonDeps

	Admins       AdminSessions
	TokenChecker middleware.TokenChecker
	Board        BoardView
	OrderAdmin   OrderAdmin
}

// newBaseRouter は共通のミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → RequestID → RealIP → Logging → RateLimit
func newBaseRouter(deps CommonDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	r.Get("/health", health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	return r
}

// NewKioskRouter はテーブル端末向けのルーティングを構成したhttp.Handlerを返す。
// メニュー、カート、注文のルートは認証済みのテーブルセッションが必要。
func NewKioskRouter(deps *KioskDeps) http.Handler {
	r := newBaseRouter(deps.CommonDeps)
	h := NewKioskHandler(deps.Sessions, deps.Menus, deps.Cart, deps.Orders)

	// --- セッション無しで使えるルート ---
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/setup", h.SetupTable)
		r.Post("/logout", h.Logout)
	})

	// --- テーブルセッションが必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireTableSession(deps.SessionChecker))

		r.Get("/api/menus", h.ListMenus)

		r.Route("/api/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{menuID}", h.UpdateCartItem)
			r.Delete("/items/{menuID}", h.RemoveCartItem)
		})

		r.Route("/api/orders", func(r chi.Router) {
			r.Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)
		})
	})

	return r
}

// NewBoardRouter は注文ボード向けのルーティングを構成したhttp.Handlerを返す。
// ログイン以外のルートは管理者ログインが必要。
func NewBoardRouter(deps *BoardDeps) http.Handler {
	r := newBaseRouter(deps.CommonDeps)
	h := NewBoardHandler(deps.Admins, deps.Board, deps.OrderAdmin)

	r.Route("/api/board", func(r chi.Router) {
		r.Get("/session", h.GetAdmin)
		r.Post("/session/login", h.Login)
		r.Post("/session/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireAdmin(deps.TokenChecker))

			r.Get("/orders", h.ListOrders)
			r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
			r.Delete("/orders/{orderID}", h.DeleteOrder)
			r.Get("/sound", h.GetSound)
			r.Post("/sound/toggle", h.ToggleSound)
		})
	})

	return r
}
