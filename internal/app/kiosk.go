package app

import (
	"context"
	"log/slog"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/auth"
	"github.com/hitoshi/tableorder/internal/cart"
	"github.com/hitoshi/tableorder/internal/config"
	"github.com/hitoshi/tableorder/internal/handler"
	"github.com/hitoshi/tableorder/internal/model"
	"github.com/hitoshi/tableorder/internal/order"
)

// buildKiosk はテーブル端末モードの依存関係を構築する。
//
// 起動手順:
//  1. 保存済みの認証情報でサイレント再認証する
//  2. 認証できず、設定にテーブルのパスワードがあれば初回設定を行う
//  3. セッション有効期限の監視を開始する
//
// 認証できなくても起動は続け、ローカルAPIから初回設定を受け付ける。
func buildKiosk(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{}
	b, err := newBase(ctx, cfg, log, rt)
	if err != nil {
		rt.close()
		return nil, err
	}

	sessions := auth.NewManager(b.client, b.store, log, auth.Config{
		CheckInterval: cfg.SessionCheckInterval,
		RefreshBefore: cfg.SessionRefreshBefore,
	})
	table := api.NewTableClient(b.client, sessions)

	carts := cart.NewManager(b.store, log)
	carts.OnStorageError = func(err error) {
		st := sessions.Snapshot()
		log.Error("cart could not be saved; changes are kept in memory only",
			slog.String("store_id", st.StoreID),
			slog.Int("table_number", st.TableNumber),
			slog.String("error_kind", string(model.KindOf(err))),
		)
	}
	rt.onClose(carts.Follow(ctx, sessions))

	orders := order.NewService(table, carts, b.store, log)

	sessions.AutoLogin(ctx)
	if !sessions.Snapshot().HasSession() && cfg.TablePassword != "" {
		if err := sessions.SetupTable(ctx, cfg.StoreID, cfg.TableNumber, cfg.TablePassword); err != nil {
			log.Warn("table setup from config failed",
				slog.String("store_id", cfg.StoreID),
				slog.Int("table_number", cfg.TableNumber),
				slog.String("error_kind", string(model.KindOf(err))),
			)
		}
	}

	log.Info("table session initialized",
		slog.String("status", string(sessions.Snapshot().Status)),
	)

	sessions.Start(ctx)
	rt.onClose(sessions.Stop)

	rt.handler = handler.NewKioskRouter(&handler.KioskDeps{
		CommonDeps:     b.common,
		Sessions:       sessions,
		SessionChecker: sessions,
		Menus:          table,
		Cart:           carts,
		Orders:         orders,
	})
	return rt, nil
}
