package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// OTPストアの種別。
const (
	OTPStorePostgres = "postgres"
	OTPStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret string
	TokenTTL  time.Duration

	// Email (SMTP)
	EmailHost string
	EmailPort int
	EmailUser string
	EmailPass string
	EmailFrom string

	// OTP
	OTPTTL             time.Duration
	OTPStore           string
	OTPCleanupInterval time.Duration

	// Redis (OTP_STORE=redis のときのみ使用)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate Limit (リクエスト数/分/クライアントIP、0で無効)
	RateLimitAuth int

	// Server
	ServerPort string
	StaticDir  string

	// Worker (メトリクス公開ポート、"0"で無効)
	WorkerMetricsPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.EmailHost = os.Getenv("EMAIL_HOST")
	if cfg.EmailHost == "" {
		missing = append(missing, "EMAIL_HOST")
	}

	cfg.EmailFrom = os.Getenv("EMAIL_FROM")
	if cfg.EmailFrom == "" {
		missing = append(missing, "EMAIL_FROM")
	}

	cfg.OTPStore = getEnvString("OTP_STORE", OTPStorePostgres)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.OTPStore == OTPStoreRedis && cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.OTPStore != OTPStorePostgres && cfg.OTPStore != OTPStoreRedis {
		return nil, fmt.Errorf("invalid OTP_STORE %q: must be %q or %q", cfg.OTPStore, OTPStorePostgres, OTPStoreRedis)
	}

	// Optional fields with defaults
	var err error
	if cfg.TokenTTL, err = getEnvPositiveDuration("TOKEN_TTL", 240*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getEnvPositiveDuration("OTP_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.OTPCleanupInterval, err = getEnvPositiveDuration("OTP_CLEANUP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	cfg.EmailPort = getEnvInt("EMAIL_PORT", 587)
	cfg.EmailUser = os.Getenv("EMAIL_USER")
	cfg.EmailPass = os.Getenv("EMAIL_PASS")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.ServerPort = getEnvString("PORT", "3000")
	cfg.StaticDir = os.Getenv("STATIC_DIR")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
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

// getEnvPositiveDuration は未設定ならdefaultValを返す。
// 解析できない値や0以下の値はエラーにする。
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}
