package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tweetharvest/internal/config"
	"github.com/hitoshi/tweetharvest/internal/database"
	"github.com/hitoshi/tweetharvest/internal/handler"
	"github.com/hitoshi/tweetharvest/internal/harvest"
	"github.com/hitoshi/tweetharvest/internal/logger"
	"github.com/hitoshi/tweetharvest/internal/metrics"
	"github.com/hitoshi/tweetharvest/internal/repository"
	"github.com/hitoshi/tweetharvest/internal/security"
	"github.com/hitoshi/tweetharvest/internal/twitter"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// logLevelが空でなければLOG_LEVELより優先する。
func Init(w io.Writer, envFile, logLevel string) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	l := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信すると実行中の処理をキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(w)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// runHarvest は1回分の収集を実行する。
// DB接続とスキーマを準備し、全依存関係をワイヤリングしてPersisterを走らせる。
// 途中でエラーになってもそれまでにコミットしたバッチは残る。
func runHarvest(ctx context.Context, cfg *config.Config, log *slog.Logger, reset bool) error {
	if err := cfg.ValidateHarvest(); err != nil {
		return err
	}

	log = log.With(slog.String("run_id", uuid.NewString()))

	// 1. DB接続とスキーマ
	dsn := cfg.DatabaseDSN()
	db, err := database.Open(cfg.DBDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := prepareSchema(cfg.DBDriver, dsn, reset, log); err != nil {
		return err
	}

	dialect, err := repository.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	repo := repository.NewSQLBatchRepo(db, dialect)

	log.Info("database connection established",
		slog.String("driver", cfg.DBDriver),
		slog.String("database_url", maskDatabaseURL(dsn)),
	)

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg)

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, &handler.RouterDeps{
			HealthChecker: db,
			Gatherer:      reg,
			Logger:        log,
		}, log)
		defer shutdownServer(srv, log)
	}

	// 3. 検索クライアントと収集パイプライン
	httpClient := twitter.NewOAuth1HTTPClient(twitter.Credentials{
		ConsumerKey:       cfg.APIKey,
		ConsumerSecret:    cfg.APISecret,
		AccessToken:       cfg.AccessToken,
		AccessTokenSecret: cfg.AccessTokenSecret,
	}, cfg.SearchTimeout)
	client := twitter.NewClient(httpClient, cfg.APIBaseURL, log)

	sanitizer := security.NewContentSanitizer(log, collector)
	fetcher := harvest.NewFetcher(client, harvest.NewLimiter(cfg.SearchInterval), cfg.StartCursor(), collector, log)
	persister := harvest.NewPersister(fetcher, repo, harvest.NewMapper(sanitizer), collector, log)

	q := harvest.SearchQuery{
		Query:     cfg.Query,
		Since:     cfg.Since,
		BatchSize: cfg.BatchSize(),
		Language:  cfg.SearchLang,
	}

	log.Info("starting harvest",
		slog.String("query", q.Query),
		slog.String("since", q.Since),
		slog.Int64("start_max_id", cfg.StartMaxID),
		slog.String("start_date", cfg.StartDate),
		slog.Int("batch_size", q.BatchSize),
		slog.String("lang", q.Language),
		slog.Duration("interval", cfg.SearchInterval),
	)

	sum, runErr := persister.Run(ctx, q)

	attrs := []any{
		slog.Int("batches", sum.Batches),
		slog.Int("posts", sum.Posts),
		slog.Int("authors", sum.Authors),
		slog.Int64("cursor_max_id", sum.Cursor.MaxID),
		slog.String("cursor_date", sum.Cursor.Date),
		slog.Duration("duration", sum.Duration),
	}
	if posts, err := repo.CountPosts(context.WithoutCancel(ctx)); err == nil {
		attrs = append(attrs, slog.Int("stored_posts", posts))
	}
	if authors, err := repo.CountAuthors(context.WithoutCancel(ctx)); err == nil {
		attrs = append(attrs, slog.Int("stored_authors", authors))
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			log.Warn("収集がキャンセルされました", attrs...)
		} else {
			log.Error("収集を中断しました", append(attrs, slog.String("error", runErr.Error()))...)
		}
		return fmt.Errorf("harvest failed: %w", runErr)
	}

	log.Info("収集が完了しました", attrs...)
	return nil
}

// prepareSchema はマイグレーションを適用する。resetが真なら作り直す。
func prepareSchema(driver, dsn string, reset bool, log *slog.Logger) error {
	if reset {
		log.Warn("resetting database schema", slog.String("driver", driver))
		if err := database.ResetSchema(driver, dsn); err != nil {
			return fmt.Errorf("schema reset failed: %w", err)
		}
		return nil
	}
	if err := database.RunMigrations(driver, dsn); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger, reset bool) error {
	dsn := cfg.DatabaseDSN()

	log.Info("running database migrations",
		slog.String("driver", cfg.DBDriver),
		slog.String("database_url", maskDatabaseURL(dsn)),
		slog.Bool("reset", reset),
	)

	if cfg.DBDriver == database.DriverSQLite {
		// 親ディレクトリの作成
		db, err := database.Open(cfg.DBDriver, dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.Close()
	}

	if err := prepareSchema(cfg.DBDriver, dsn, reset, log); err != nil {
		return err
	}

	log.Info("database migrations completed successfully")
	return nil
}

// startMetricsServer は/metricsと/healthを公開するHTTPサーバーをバックグラウンドで起動する。
func startMetricsServer(addr string, deps *handler.RouterDeps, log *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	return server
}

func shutdownServer(server *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}
}

// runHealthcheck はヘルスチェックを実行する。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthURL はリッスンアドレスから/healthのURLを組み立てる。":9090"はlocalhostとみなす。
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// URL形式でないもの（SQLiteのファイルパス）はそのまま返す。
func maskDatabaseURL(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		if strings.Contains(dsn, "://") || strings.Contains(dsn, "password=") {
			return "***"
		}
		return dsn
	}
	return u.Redacted()
}
