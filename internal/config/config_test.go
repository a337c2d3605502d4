package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allEnvKeys = []string{
	"API_BASE_URL", "REQUEST_TIMEOUT", "OUTBOUND_RATE_PER_SECOND",
	"STORE_ID", "TABLE_NUMBER", "TABLE_PASSWORD",
	"SESSION_CHECK_INTERVAL", "SESSION_REFRESH_BEFORE",
	"ADMIN_USERNAME", "ADMIN_PASSWORD", "STREAM_RECONNECT_MAX",
	"STORAGE_BACKEND", "STORAGE_PATH", "DATABASE_URL", "STORAGE_RETENTION_DAYS",
	"SERVER_PORT", "CORS_ALLOWED_ORIGIN", "RATE_LIMIT_PER_MINUTE", "LOG_LEVEL",
}

// clearEnv はホスト環境の値がテストに混入しないよう全キーを空にする。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnvKeys {
		t.Setenv(k, "")
	}
}

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	clearEnv(t)
	t.Setenv("API_BASE_URL", "http://localhost:8000")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "http://localhost:8000")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 10*time.Second)
	}
	if cfg.SessionCheckInterval != 60*time.Second {
		t.Errorf("SessionCheckInterval = %v, want %v", cfg.SessionCheckInterval, 60*time.Second)
	}
	if cfg.SessionRefreshBefore != 15*time.Minute {
		t.Errorf("SessionRefreshBefore = %v, want %v", cfg.SessionRefreshBefore, 15*time.Minute)
	}
	if cfg.StorageBackend != StorageBackendFile {
		t.Errorf("StorageBackend = %q, want %q", cfg.StorageBackend, StorageBackendFile)
	}
	if cfg.StoragePath != "./tableorder-state.json" {
		t.Errorf("StoragePath = %q, want %q", cfg.StoragePath, "./tableorder-state.json")
	}
	if cfg.StreamReconnectMax != 30*time.Second {
		t.Errorf("StreamReconnectMax = %v, want %v", cfg.StreamReconnectMax, 30*time.Second)
	}
	if cfg.ServerPort != "8090" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8090")
	}
	if cfg.RateLimitPerMinute != 120 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 120)
	}
	if cfg.OutboundRatePerSecond != 20 {
		t.Errorf("OutboundRatePerSecond = %d, want %d", cfg.OutboundRatePerSecond, 20)
	}
	if cfg.StorageRetentionDays != 30 {
		t.Errorf("StorageRetentionDays = %d, want %d", cfg.StorageRetentionDays, 30)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)

	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("STORE_ID", "store1")
	t.Setenv("TABLE_NUMBER", "7")
	t.Setenv("SESSION_CHECK_INTERVAL", "30s")
	t.Setenv("SESSION_REFRESH_BEFORE", "5m")
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 5*time.Second)
	}
	if cfg.StoreID != "store1" {
		t.Errorf("StoreID = %q, want %q", cfg.StoreID, "store1")
	}
	if cfg.TableNumber != 7 {
		t.Errorf("TableNumber = %d, want %d", cfg.TableNumber, 7)
	}
	if cfg.SessionCheckInterval != 30*time.Second {
		t.Errorf("SessionCheckInterval = %v, want %v", cfg.SessionCheckInterval, 30*time.Second)
	}
	if cfg.SessionRefreshBefore != 5*time.Minute {
		t.Errorf("SessionRefreshBefore = %v, want %v", cfg.SessionRefreshBefore, 5*time.Minute)
	}
	if cfg.StorageBackend != StorageBackendMemory {
		t.Errorf("StorageBackend = %q, want %q", cfg.StorageBackend, StorageBackendMemory)
	}
	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Errorf("RateLimitPerMinute = %d, want %d", cfg.RateLimitPerMinute, 60)
	}
}

func TestLoad_InvalidNumbersFallBackToDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("TABLE_NUMBER", "seven")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want default %v", cfg.RequestTimeout, 10*time.Second)
	}
	if cfg.TableNumber != 0 {
		t.Errorf("TableNumber = %d, want 0", cfg.TableNumber)
	}
}

func TestLoad_MissingAPIBaseURL_ReturnsError(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing API_BASE_URL, got nil")
	}
}

func TestLoad_PostgresWithoutDatabaseURL_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("STORAGE_BACKEND", "postgres")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing DATABASE_URL, got nil")
	}
}

func TestLoad_UnknownBackend_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("STORAGE_BACKEND", "redis")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for unsupported backend, got nil")
	}
}

func TestLoad_YAMLFile_EnvOverrides(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "tableorder.yaml")
	content := `
api_base_url: http://backend.local:8000
store_id: store9
table_number: 4
request_timeout: 3s
session_refresh_before: 10m
storage_backend: memory
server_port: "9000"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APIBaseURL != "http://backend.local:8000" {
		t.Errorf("APIBaseURL = %q, want %q", cfg.APIBaseURL, "http://backend.local:8000")
	}
	if cfg.StoreID != "store9" {
		t.Errorf("StoreID = %q, want %q", cfg.StoreID, "store9")
	}
	if cfg.TableNumber != 4 {
		t.Errorf("TableNumber = %d, want 4", cfg.TableNumber)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 3*time.Second)
	}
	if cfg.SessionRefreshBefore != 10*time.Minute {
		t.Errorf("SessionRefreshBefore = %v, want %v", cfg.SessionRefreshBefore, 10*time.Minute)
	}
	// 環境変数がYAMLより優先される
	if cfg.ServerPort != "9100" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "9100")
	}
	// YAMLに無い項目はデフォルト値のまま
	if cfg.SessionCheckInterval != 60*time.Second {
		t.Errorf("SessionCheckInterval = %v, want %v", cfg.SessionCheckInterval, 60*time.Second)
	}
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}
