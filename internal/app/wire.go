package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tableorder/internal/api"
	"github.com/hitoshi/tableorder/internal/config"
	"github.com/hitoshi/tableorder/internal/database"
	"github.com/hitoshi/tableorder/internal/handler"
	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/middleware"
	"github.com/hitoshi/tableorder/internal/security"
	"github.com/hitoshi/tableorder/internal/storage"
	"github.com/hitoshi/tableorder/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB接続確認の待ち時間。
const dbPingTimeout = 5 * time.Second

// runtime は起動したモードのHTTPハンドラーと、終了時に逆順で実行する後始末を保持する。
type runtime struct {
	handler http.Handler
	closers []func()
}

func (rt *runtime) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// close は登録された後始末を逆順で実行する。
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// base はキオスクとボードで共通の依存関係。
type base struct {
	metrics *metrics.Collector
	store   *storage.SafeStore
	client  *api.Client
	common  handler.CommonDeps
}

// newBase は共通の依存関係を構築する。
// ストレージのクローズとバックグラウンドジョブの停止はrtに登録する。
func newBase(ctx context.Context, cfg *config.Config, log *slog.Logger, rt *runtime) (*base, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	mc := metrics.NewCollector(reg)

	store, err := openStore(ctx, cfg, log, rt)
	if err != nil {
		return nil, err
	}

	client := api.NewClient(api.Options{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.RequestTimeout,
		RatePerSecond: cfg.OutboundRatePerSecond,
		Logger:        log,
		Metrics:       mc,
		Sanitizer:     security.NewTextSanitizer(),
	})

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitPerMinute))
	rt.onClose(limiter.Stop)

	return &base{
		metrics: mc,
		store:   storage.NewSafeStore(store, log, mc),
		client:  client,
		common: handler.CommonDeps{
			Logger:            log,
			Metrics:           mc,
			MetricsHandler:    metrics.Handler(reg),
			CORSAllowedOrigin: cfg.CORSAllowedOrigin,
			RateLimiter:       limiter,
		},
	}, nil
}

// openStore は設定されたバックエンドのStoreを開く。
// PostgreSQLの場合はマイグレーションを適用し、古いエントリの削除ジョブを起動する。
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger, rt *runtime) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		log.Warn("memory storage is not persistent; state is lost on restart")
		return storage.NewMemoryStore(), nil

	case config.StorageBackendPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.Uint64("schema_version", uint64(version)),
		)

		jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		job := cleanup.NewCleanupJob(db, log)
		if cfg.StorageRetentionDays > 0 {
			job.RetentionDays = cfg.StorageRetentionDays
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			job.Start(jobCtx, cleanup.DefaultInterval)
		}()

		rt.onClose(func() {
			cancel()
			<-done
			db.Close()
		})
		return storage.NewPostgresStore(db), nil

	default:
		store, err := storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage file: %w", err)
		}
		log.Info("file storage opened", slog.String("path", cfg.StoragePath))
		return store, nil
	}
}
