package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL            string
	RedisConnectRetries int

	// Server
	ServerPort  string
	BaseURL     string
	// MetricsPort はworkerが/metricsと/healthを公開するポート。
	MetricsPort string

	// Session / Cookie
	SessionMaxAge int
	CookieSecure  bool
	CookieDomain  string

	// CORS
	CORSAllowedOrigin string

	// Cognito
	CognitoDomain       string
	CognitoUserPoolURL  string
	CognitoClientID     string
	CognitoClientSecret string

	// freee
	FreeeClientID     string
	FreeeClientSecret string
	FreeeAccountsURL  string
	HRAPIBaseURL      string
	HRCompanyName     string
	HRHTTPTimeout     time.Duration
	OAuthHTTPTimeout  time.Duration

	// トークン更新の調停
	HRTokenBuffer     time.Duration
	HRLockTTL         time.Duration
	HRLockRetryDelay  time.Duration
	HRLockMaxAttempts int

	// 勤怠の一括登録・削除
	HRCreateConcurrency int
	HRCreateDelay       time.Duration
	HRDeleteConcurrency int
	HRDeleteDelay       time.Duration
	HRMaxRangeDays      int

	// Holidays
	HolidaysURL      string
	HolidaysCacheTTL time.Duration

	// Fetch
	FeedCategoriesFile string
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchMaxConcurrent int
	FetchInterval      time.Duration

	// Notify
	NotifyInterval time.Duration
	NotifyLookback time.Duration
	NotifyBuffer   time.Duration
	SlackBotToken  string
	SlackChannel   string

	// Cleanup
	ItemRetentionDays int

	// Rate Limit（1分あたり）
	RateLimitGeneral  int
	RateLimitMutation int

	// HackerNews
	HackerNewsBaseURL string
	HackerNewsLimit   int
}

// Development は開発環境で動作しているかを返す。
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// LoadDotEnv はAPP_ENVに応じて.envファイルを読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv() {
	if os.Getenv("APP_ENV") == "development" {
		_ = godotenv.Load(".env.development")
		return
	}
	_ = godotenv.Load(".env")
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	LoadDotEnv()

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.BaseURL = required("BASE_URL")
	cfg.CognitoDomain = required("COGNITO_DOMAIN")
	cfg.CognitoUserPoolURL = required("COGNITO_USER_POOL_URL")
	cfg.CognitoClientID = required("COGNITO_CLIENT_ID")
	cfg.CognitoClientSecret = required("COGNITO_CLIENT_SECRET")
	cfg.FreeeClientID = required("FREEE_CLIENT_ID")
	cfg.FreeeClientSecret = required("FREEE_CLIENT_SECRET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.RedisConnectRetries = getEnvInt("REDIS_CONNECT_RETRIES", 5)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	cfg.FreeeAccountsURL = getEnvString("FREEE_ACCOUNTS_URL", "https://accounts.secure.freee.co.jp")
	cfg.HRAPIBaseURL = getEnvString("HR_API_BASE_URL", "https://api.freee.co.jp/hr")
	cfg.HRCompanyName = getEnvString("HR_COMPANY_NAME", "")
	cfg.HRHTTPTimeout = getEnvDuration("HR_HTTP_TIMEOUT", 30*time.Second)
	cfg.OAuthHTTPTimeout = getEnvDuration("OAUTH_HTTP_TIMEOUT", 10*time.Second)

	cfg.HRTokenBuffer = getEnvDuration("HR_TOKEN_BUFFER", 30*time.Second)
	cfg.HRLockTTL = getEnvDuration("HR_LOCK_TTL", 10*time.Second)
	cfg.HRLockRetryDelay = getEnvDuration("HR_LOCK_RETRY_DELAY", 3*time.Second)
	cfg.HRLockMaxAttempts = getEnvInt("HR_LOCK_MAX_ATTEMPTS", 3)

	cfg.HRCreateConcurrency = getEnvInt("HR_CREATE_CONCURRENCY", 30)
	cfg.HRCreateDelay = getEnvDuration("HR_CREATE_DELAY", time.Second)
	cfg.HRDeleteConcurrency = getEnvInt("HR_DELETE_CONCURRENCY", 10)
	cfg.HRDeleteDelay = getEnvDuration("HR_DELETE_DELAY", 2*time.Second)
	cfg.HRMaxRangeDays = getEnvInt("HR_MAX_RANGE_DAYS", 62)

	cfg.HolidaysURL = getEnvString("HOLIDAYS_URL", "https://holidays-jp.github.io/api/v1/date.json")
	cfg.HolidaysCacheTTL = getEnvDuration("HOLIDAYS_CACHE_TTL", 24*time.Hour)

	cfg.FeedCategoriesFile = getEnvString("FEED_CATEGORIES_FILE", "")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 5)
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", 20*time.Minute)

	cfg.NotifyInterval = getEnvDuration("NOTIFY_INTERVAL", time.Hour)
	cfg.NotifyLookback = getEnvDuration("NOTIFY_LOOKBACK", time.Hour)
	cfg.NotifyBuffer = getEnvDuration("NOTIFY_BUFFER", 5*time.Minute)
	cfg.SlackBotToken = getEnvString("SLACK_BOT_TOKEN", "")
	cfg.SlackChannel = getEnvString("SLACK_CHANNEL", "#色々通知")

	cfg.ItemRetentionDays = getEnvInt("ITEM_RETENTION_DAYS", 30)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 10)

	cfg.HackerNewsBaseURL = getEnvString("HACKERNEWS_BASE_URL", "https://hacker-news.firebaseio.com/v0")
	cfg.HackerNewsLimit = getEnvInt("HACKERNEWS_LIMIT", 30)

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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
