// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ストレージバックエンドの種別
const (
	StorageBackendFile     = "file"
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// YAMLファイル（任意）と環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 環境変数はYAMLの値より優先される。
type Config struct {
	// Backend API
	APIBaseURL            string        `yaml:"api_base_url"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	OutboundRatePerSecond int           `yaml:"outbound_rate_per_second"`

	// Table
	StoreID       string `yaml:"store_id"`
	TableNumber   int    `yaml:"table_number"`
	TablePassword string `yaml:"table_password"`

	// Session
	SessionCheckInterval time.Duration `yaml:"session_check_interval"`
	SessionRefreshBefore time.Duration `yaml:"session_refresh_before"`

	// Admin
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`

	// Event stream
	StreamReconnectMax time.Duration `yaml:"stream_reconnect_max"`

	// Storage
	StorageBackend       string `yaml:"storage_backend"`
	StoragePath          string `yaml:"storage_path"`
	DatabaseURL          string `yaml:"database_url"`
	StorageRetentionDays int    `yaml:"storage_retention_days"`

	// Local server
	ServerPort         string `yaml:"server_port"`
	CORSAllowedOrigin  string `yaml:"cors_allowed_origin"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default はデフォルト値を設定したConfigを返す。
func Default() *Config {
	return &Config{
		RequestTimeout:        10 * time.Second,
		OutboundRatePerSecond: 20,
		SessionCheckInterval:  60 * time.Second,
		SessionRefreshBefore:  15 * time.Minute,
		StreamReconnectMax:    30 * time.Second,
		StorageBackend:        StorageBackendFile,
		StoragePath:           "./tableorder-state.json",
		StorageRetentionDays:  30,
		ServerPort:            "8090",
		CORSAllowedOrigin:     "http://localhost:5173",
		RateLimitPerMinute:    120,
		LogLevel:              "info",
	}
}

// Load はConfigを読み込む。
// pathが空でなければYAMLファイルを読み込み、その上に環境変数を適用する。
// 必須項目が未設定の場合はエラーを返す。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.APIBaseURL = getEnvString("API_BASE_URL", cfg.APIBaseURL)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.OutboundRatePerSecond = getEnvInt("OUTBOUND_RATE_PER_SECOND", cfg.OutboundRatePerSecond)
	cfg.StoreID = getEnvString("STORE_ID", cfg.StoreID)
	cfg.TableNumber = getEnvInt("TABLE_NUMBER", cfg.TableNumber)
	cfg.TablePassword = getEnvString("TABLE_PASSWORD", cfg.TablePassword)
	cfg.SessionCheckInterval = getEnvDuration("SESSION_CHECK_INTERVAL", cfg.SessionCheckInterval)
	cfg.SessionRefreshBefore = getEnvDuration("SESSION_REFRESH_BEFORE", cfg.SessionRefreshBefore)
	cfg.AdminUsername = getEnvString("ADMIN_USERNAME", cfg.AdminUsername)
	cfg.AdminPassword = getEnvString("ADMIN_PASSWORD", cfg.AdminPassword)
	cfg.StreamReconnectMax = getEnvDuration("STREAM_RECONNECT_MAX", cfg.StreamReconnectMax)
	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.StoragePath = getEnvString("STORAGE_PATH", cfg.StoragePath)
	cfg.DatabaseURL = getEnvString("DATABASE_URL", cfg.DatabaseURL)
	cfg.StorageRetentionDays = getEnvInt("STORAGE_RETENTION_DAYS", cfg.StorageRetentionDays)
	cfg.ServerPort = getEnvString("SERVER_PORT", cfg.ServerPort)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.CORSAllowedOrigin)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は必須項目と値の整合性を検証する。
func (c *Config) validate() error {
	var missing []string

	if c.APIBaseURL == "" {
		missing = append(missing, "API_BASE_URL")
	}
	if c.StorageBackend == StorageBackendPostgres && c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch c.StorageBackend {
	case StorageBackendFile, StorageBackendPostgres, StorageBackendMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %q", c.StorageBackend)
	}

	if c.SessionCheckInterval <= 0 {
		return fmt.Errorf("SESSION_CHECK_INTERVAL must be positive: %v", c.SessionCheckInterval)
	}

	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
