package auth

import (
	"context"
	"log/slog"
	"time"
)

// Start は有効期限チェックのバックグラウンド処理を開始する。
// すでに開始している場合は何もしない。
func (m *Manager) Start(ctx context.Context) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.watch(ctx, m.done)
}

// Stop は有効期限チェックを停止し、処理中のチェックの終了を待つ。
// Stopから戻った後にチェックが実行されることはない。
func (m *Manager) Stop() {
	m.watchMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.watchMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info("セッション有効期限チェックを開始しました",
		slog.Duration("interval", m.config.CheckInterval),
		slog.Duration("refresh_before", m.config.RefreshBefore),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("セッション有効期限チェックを停止しました")
			return
		case <-ticker.C:
			m.CheckExpiry(ctx)
		}
	}
}

// CheckExpiry は残り時間を計算し、期限切れならログアウト、
// 更新ウィンドウ内なら再認証する。
func (m *Manager) CheckExpiry(ctx context.Context) {
	s := m.Snapshot()
	if s.Status != StatusAuthenticated {
		return
	}

	timeLeft := s.Session.ExpiresAt.Sub(m.now())
	switch {
	case timeLeft <= 0:
		m.logger.Info("セッションの有効期限が切れました",
			slog.String("store_id", s.StoreID),
			slog.Int("table_number", s.TableNumber),
		)
		m.Logout(ctx)
	case timeLeft <= m.config.RefreshBefore:
		if err := m.RenewStale(ctx, s.Generation); err != nil {
			m.logger.Warn("期限前のセッション更新に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}
}
