package app

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/hitoshi/tweetharvest/internal/config"
)

// globalOptions は全サブコマンド共通のフラグ。
type globalOptions struct {
	envFile  string
	logLevel string
}

// runOptions はrunサブコマンドのフラグ。指定されたものだけが環境変数の値を上書きする。
type runOptions struct {
	reset      bool
	since      string
	query      string
	lang       string
	batchSize  int
	startMaxID int64
	startDate  string
}

// NewRootCommand はtweetharvestのコマンドツリーを構築する。
// ログはwに出力する。
//
//	tweetharvest run [--reset] [--since ...] [--query ...] [--lang ...] [--batch-size ...]
//	tweetharvest migrate [--reset]
//	tweetharvest healthcheck [--addr ...]
func NewRootCommand(w io.Writer) *cobra.Command {
	var global globalOptions

	root := &cobra.Command{
		Use:   "tweetharvest",
		Short: "キーワード検索で投稿を過去へ遡って収集し、データベースへ保存する",
		Long: `tweetharvest は検索APIをmax_idカーソルで過去へ遡りながら呼び出し、
投稿と投稿者を主キーでアップサートします。
同じ範囲を何度収集しても行が重複することはありません。

設定は環境変数（.env も可）から読み込み、フラグで上書きできます。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.envFile, "env-file", ".env", "読み込む .env ファイル")
	root.PersistentFlags().StringVar(&global.logLevel, "log-level", "", "ログレベル (debug|info|warn|error)。LOG_LEVEL より優先")

	root.AddCommand(
		newRunCommand(w, &global),
		newMigrateCommand(w, &global),
		newHealthcheckCommand(),
	)

	return root
}

func newRunCommand(w io.Writer, global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "収集を実行する",
		Example: `  # 環境変数の設定で収集する
  tweetharvest run

  # 既存の行を消してから 2020-03-25 まで遡る
  tweetharvest run --reset --since 2020-03-25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := Init(w, global.envFile, global.logLevel)
			if err != nil {
				return err
			}
			applyRunOptions(cmd, cfg, &opts)
			return runHarvest(cmd.Context(), cfg, logger, opts.reset)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.reset, "reset", false, "収集前にテーブルを作り直す（既存の行はすべて失われる）")
	f.StringVar(&opts.since, "since", "", "遡る下限日付 (2006-01-02)。SINCE より優先")
	f.StringVar(&opts.query, "query", "", "検索クエリ。QUERY より優先")
	f.StringVar(&opts.lang, "lang", "", "言語フィルタ。SEARCH_LANG より優先")
	f.IntVar(&opts.batchSize, "batch-size", 0, "1回あたりの取得件数 (1-100)。SEARCH_BATCH_SIZE より優先")
	f.Int64Var(&opts.startMaxID, "start-max-id", 0, "起点カーソルのID。START_MAX_ID より優先")
	f.StringVar(&opts.startDate, "start-date", "", "起点カーソルの日付 (2006-01-02)。START_DATE より優先")

	return cmd
}

// applyRunOptions は明示的に指定されたフラグだけをcfgに反映する。
func applyRunOptions(cmd *cobra.Command, cfg *config.Config, opts *runOptions) {
	f := cmd.Flags()
	if f.Changed("since") {
		cfg.Since = opts.since
	}
	if f.Changed("query") {
		cfg.Query = opts.query
	}
	if f.Changed("lang") {
		cfg.SearchLang = opts.lang
	}
	if f.Changed("batch-size") {
		cfg.SearchBatch = opts.batchSize
	}
	if f.Changed("start-max-id") {
		cfg.StartMaxID = opts.startMaxID
	}
	if f.Changed("start-date") {
		cfg.StartDate = opts.startDate
	}
}

func newMigrateCommand(w io.Writer, global *globalOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := Init(w, global.envFile, global.logLevel)
			if err != nil {
				return err
			}
			return runMigrate(cfg, logger, reset)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "すべてのマイグレーションを取り消してから再適用する")

	return cmd
}

// newHealthcheckCommand はメトリクスサーバーの/healthを確認するサブコマンドを返す。
// distroless環境でのDockerヘルスチェック用。設定の読み込みは行わない。
func newHealthcheckCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "実行中プロセスの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runHealthcheck(healthURL(addr))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("METRICS_ADDR", ":9090"), "メトリクスサーバーのアドレス")

	return cmd
}
