package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/auth"
	"github.com/hitoshi/tableorder/internal/board"
	"github.com/hitoshi/tableorder/internal/config"
	"github.com/hitoshi/tableorder/internal/events"
	"github.com/hitoshi/tableorder/internal/handler"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/security"
)

// imageCheckTimeout はメニュー画像URLの到達確認の待ち時間。
const imageCheckTimeout = 5 * time.Second

// boardSession は管理者のログイン状態と注文イベントの購読を連動させる。
// ログインで購読を開始し、ログアウトまたはトークン失効で購読を閉じる。
type boardSession struct {
	admins *auth.AdminManager
	admin  *api.AdminClient
	stream *events.Client
	board  *board.Board
	log    *slog.Logger

	// baseCtx は購読の寿命。リクエストのコンテキストでは購読しない。
	baseCtx context.Context

	mu  sync.Mutex
	sub *events.Subscription
}

var (
	_ handler.AdminSessions = (*boardSession)(nil)
	_ api.TokenSource       = (*boardSession)(nil)
)

// Login は管理者ログインを行い、成功したら注文イベントの購読を開始する。
// 購読の失敗はログのみで、ログイン自体は成功として扱う。
// 取り込み中に管理者APIが401を返した場合はsession_expiredを返す。
func (s *boardSession) Login(ctx context.Context, storeID, username, password string) (*model.AdminAuth, error) {
	a, err := s.admins.Login(ctx, storeID, username, password)
	if err != nil {
		return nil, err
	}
	s.connect(ctx, a.StoreID)
	if _, ok := s.admins.Current(); !ok {
		// 取り込み中に401を受けてトークンが失効した
		return nil, model.NewSessionExpiredError("")
	}
	return a, nil
}

// Logout は購読を閉じてから管理者をログアウトさせる。
func (s *boardSession) Logout(ctx context.Context) {
	s.disconnect()
	s.admins.Logout(ctx)
}

// Current は現在の管理者認証情報を返す。
func (s *boardSession) Current() (model.AdminAuth, bool) {
	return s.admins.Current()
}

// Token はapi.TokenSourceを実装する。
func (s *boardSession) Token() (storeID, token string, ok bool) {
	return s.admins.Token()
}

// Invalidate はapi.TokenSourceを実装する。
// 管理者APIが401を返した場合に、購読を閉じてから保存済みの管理者認証を破棄する。
func (s *boardSession) Invalidate(ctx context.Context) {
	s.disconnect()
	s.admins.Invalidate(ctx)
}

// connect は店舗の注文イベントを購読し、現在の注文一覧を取り込む。
// 購読を先に開始するため、取り込み中に届いたイベントも失われない。
func (s *boardSession) connect(ctx context.Context, storeID string) {
	s.disconnect()

	sub, err := s.stream.Open(s.baseCtx, storeID, s.board.Apply)
	if err != nil {
		s.log.Error("failed to open order event stream",
			slog.String("store_id", storeID),
			slog.String("error_kind", string(model.KindOf(err))),
			slog.String("error", err.Error()),
		)
		if model.KindOf(err) == model.ErrorKindSessionExpired {
			s.Invalidate(ctx)
		}
		return
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	go s.watch(sub, storeID)
	s.seed(ctx)
}

// watch は購読が再接続を諦めて終了した場合にログを出す。
// トークン失効による終了では保存済みの管理者認証を破棄する。
func (s *boardSession) watch(sub *events.Subscription, storeID string) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}
	s.log.Error("order event stream stopped",
		slog.String("store_id", storeID),
		slog.String("error_kind", string(model.KindOf(err))),
		slog.String("error", err.Error()),
	)
	s.release(sub)
	if model.KindOf(err) == model.ErrorKindSessionExpired {
		s.admins.Invalidate(s.baseCtx)
	}
}

// release は終了した購読が現在の購読であれば手放す。
func (s *boardSession) release(sub *events.Subscription) {
	s.mu.Lock()
	if s.sub == sub {
		s.sub = nil
	}
	s.mu.Unlock()
}

// seed は利用中のテーブルの注文をボードに取り込む。
func (s *boardSession) seed(ctx context.Context) {
	tables, err := s.admin.GetTables(ctx)
	if err != nil {
		s.log.Warn("failed to load tables", slog.String("error_kind", string(model.KindOf(err))))
		return
	}

	for _, t := range tables {
		if !t.IsActive {
			continue
		}
		orders, err := s.admin.GetTableOrders(ctx, t.TableNumber)
		if err != nil {
			s.log.Warn("failed to load table orders",
				slog.Int("table_number", t.TableNumber),
				slog.String("error_kind", string(model.KindOf(err))),
			)
			continue
		}
		s.board.SeedTableOrders(orders)
	}
	s.log.Info("order board seeded", slog.Int("orders", s.board.Len()))
}

func (s *boardSession) disconnect() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// buildBoard は注文ボードモードの依存関係を構築する。
// 保存済みの管理者認証を復元し、無ければ設定の管理者アカウントでログインする。
func buildBoard(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{}
	b, err := newBase(ctx, cfg, log, rt)
	if err != nil {
		rt.close()
		return nil, err
	}

	admins := auth.NewAdminManager(b.client, b.store, log)

	stream := events.NewClient(events.Options{
		BaseURL:    cfg.APIBaseURL,
		Logger:     log,
		Metrics:    b.metrics,
		Tokens:     admins,
		MaxBackoff: cfg.StreamReconnectMax,
	})

	orderBoard := board.New(ctx, b.store, log)
	orderBoard.OnNewOrder(func(o model.Order) {
		log.Info("new order received",
			slog.String("order_id", o.ID),
			slog.String("order_number", o.OrderNumber),
			slog.Int("table_number", o.TableNumber),
			slog.Int("total_amount", o.TotalAmount),
		)
	})

	session := &boardSession{
		admins:  admins,
		stream:  stream,
		board:   orderBoard,
		log:     log,
		baseCtx: ctx,
	}
	// 管理者APIの401はsession経由で購読も閉じる
	adminClient := api.NewAdminClient(b.client, session, security.NewImageURLGuard(imageCheckTimeout))
	session.admin = adminClient
	rt.onClose(session.disconnect)

	switch {
	case admins.Restore(ctx):
		a, _ := admins.Current()
		session.connect(ctx, a.StoreID)
	case cfg.AdminUsername != "" && cfg.AdminPassword != "":
		if _, err := session.Login(ctx, cfg.StoreID, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Warn("admin login from config failed",
				slog.String("store_id", cfg.StoreID),
				slog.String("error_kind", string(model.KindOf(err))),
			)
		}
	default:
		log.Info("admin is not logged in; waiting for login")
	}

	rt.handler = handler.NewBoardRouter(&handler.BoardDeps{
		CommonDeps:   b.common,
		Admins:       session,
		TokenChecker: admins,
		Board:        orderBoard,
		OrderAdmin:   adminClient,
	})
	return rt, nil
}
