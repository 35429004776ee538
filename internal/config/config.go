package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"

	"github.com/hitoshi/tweetharvest/internal/model"
)

// KeyringService は認証情報を保存するOSキーリングのサービス名。
const KeyringService = "tweetharvest"

// DefaultQuery は収集対象の既定の検索クエリ。
const DefaultQuery = "ロックダウン OR 都市封鎖 OR 緊急事態宣言 OR 4月1日"

// sinceLayouts はSINCEとして受け付ける書式。
var sinceLayouts = []string{model.DateLayout, "2006-01-02 15:04"}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// コマンドラインフラグによる上書きはLoad直後に行う。
type Config struct {
	// Twitter API
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
	APIBaseURL        string

	// Database
	DBDriver    string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	DBCharset   string
	DBPath      string

	// Search
	Query          string
	Since          string
	StartMaxID     int64
	StartDate      string
	SearchBatch    int
	SearchLang     string
	SearchInterval time.Duration
	SearchTimeout  time.Duration

	// Observability
	MetricsAddr string
	LogLevel    string
}

// LoadDotEnv はpathsの.envファイルを環境変数に読み込む。
// すでに設定済みの環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// Twitter APIの認証情報が環境変数にない場合はOSキーリングを参照する。
// 収集に必要な値の検証はValidateHarvestで行う。
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:            getSecret("TWITTER_API_KEY"),
		APISecret:         getSecret("TWITTER_API_SECRET"),
		AccessToken:       getSecret("TWITTER_ACCESS_TOKEN"),
		AccessTokenSecret: getSecret("TWITTER_ACCESS_TOKEN_SECRET"),
		APIBaseURL:        getEnvString("TWITTER_API_BASE_URL", "https://api.twitter.com/1.1"),

		DBDriver:    getEnvString("DB_DRIVER", "postgres"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBHost:      getEnvString("DB_HOST", "localhost"),
		DBPort:      getEnvString("DB_PORT", "5432"),
		DBUser:      os.Getenv("DB_USER"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBName:      os.Getenv("DB_NAME"),
		DBSSLMode:   getEnvString("DB_SSLMODE", "disable"),
		DBCharset:   getEnvString("DB_CHARSET", "UTF8"),
		DBPath:      getEnvString("DB_PATH", "data/search.db"),

		Query:          getEnvString("QUERY", DefaultQuery),
		Since:          os.Getenv("SINCE"),
		StartMaxID:     getEnvInt64("START_MAX_ID", 0),
		StartDate:      os.Getenv("START_DATE"),
		SearchBatch:    getEnvInt("SEARCH_BATCH_SIZE", 100),
		SearchLang:     getEnvString("SEARCH_LANG", "ja"),
		SearchInterval: getEnvDuration("SEARCH_INTERVAL", 5*time.Second),
		SearchTimeout:  getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),

		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    getEnvString("LOG_LEVEL", "info"),
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %q", cfg.DBDriver)
	}

	return cfg, nil
}

// ValidateHarvest は収集の実行に必要な値を検証する。
// 未設定の必須値はまとめて1つのエラーで報告する。
func (c *Config) ValidateHarvest() error {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"TWITTER_API_KEY", c.APIKey},
		{"TWITTER_API_SECRET", c.APISecret},
		{"TWITTER_ACCESS_TOKEN", c.AccessToken},
		{"TWITTER_ACCESS_TOKEN_SECRET", c.AccessTokenSecret},
		{"SINCE", c.Since},
		{"START_DATE", c.StartDate},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if c.StartMaxID <= 0 {
		missing = append(missing, "START_MAX_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !validSince(c.Since) {
		return fmt.Errorf("SINCE must be formatted as %v: %q", sinceLayouts, c.Since)
	}
	if _, err := time.Parse(model.DateLayout, c.StartDate); err != nil {
		return fmt.Errorf("START_DATE must be formatted as %s: %w", model.DateLayout, err)
	}
	if c.Query == "" {
		return errors.New("QUERY must not be empty")
	}

	return nil
}

// BatchSize は1〜100に丸めた1回あたりの取得件数を返す。
func (c *Config) BatchSize() int {
	return min(max(c.SearchBatch, 1), 100)
}

// StartCursor は収集の起点カーソルを返す。
func (c *Config) StartCursor() model.Cursor {
	return model.Cursor{MaxID: c.StartMaxID, Date: c.StartDate}
}

// DatabaseDSN はDB_DRIVERに応じた接続文字列を返す。
//   - postgres: DATABASE_URL、未設定ならDB_HOSTなどから組み立てたURL
//   - sqlite3: DB_PATH
func (c *Config) DatabaseDSN() string {
	if c.DBDriver == "sqlite3" {
		return c.DBPath
	}
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	q := url.Values{}
	q.Set("sslmode", c.DBSSLMode)
	q.Set("client_encoding", c.DBCharset)

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	return u.String()
}

func validSince(s string) bool {
	for _, layout := range sinceLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// getSecret は環境変数、なければOSキーリングから値を取得する。
// キーリングが利用できない環境では空文字を返す。
func getSecret(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	v, err := keyring.Get(KeyringService, key)
	if err != nil {
		return ""
	}
	return v
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
