package storage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/tableorder/internal/metrics"
	"github.com/hitoshi/tableorder/internal/model"
)

// SafeStore はStoreをJSON値で読み書きするラッパー。
// 読み込み失敗とJSONパース失敗は「値なし」として扱い、警告ログのみ出力する。
// 書き込みと削除の失敗はstorage種別のAPIErrorとして返す。どの失敗でもpanicしない。
type SafeStore struct {
	store   Store
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewSafeStore はSafeStoreを生成する。mcがnilの場合はメトリクスを記録しない。
func NewSafeStore(store Store, logger *slog.Logger, mc metrics.MetricsCollector) *SafeStore {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SafeStore{store: store, logger: logger, metrics: mc}
}

// GetJSON はkeyの値をdstにデコードする。値が存在し正しく読めた場合のみtrueを返す。
func (s *SafeStore) GetJSON(ctx context.Context, key string, dst any) bool {
	data, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.metrics.RecordStorageFailure("get")
		s.logger.Warn("ローカルデータの読み込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		s.metrics.RecordStorageFailure("decode")
		s.logger.Warn("ローカルデータのパースに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// SetJSON はvをJSONにエンコードしてkeyに保存する。
func (s *SafeStore) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.metrics.RecordStorageFailure("encode")
		s.logger.Warn("ローカルデータのエンコードに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return model.NewStorageError("保存", err)
	}

	if err := s.store.Set(ctx, key, data); err != nil {
		s.metrics.RecordStorageFailure("set")
		s.logger.Warn("ローカルデータの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return model.NewStorageError("保存", err)
	}
	return nil
}

// Remove はkeyを削除する。存在しないキーの削除は成功として扱う。
func (s *SafeStore) Remove(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		s.metrics.RecordStorageFailure("delete")
		s.logger.Warn("ローカルデータの削除に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return model.NewStorageError("削除", err)
	}
	return nil
}
