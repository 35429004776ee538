// Package harvest はキーワード検索結果の収集と保存を提供する。
//
// Fetcher は既知の新しい投稿を起点に上限ID（max_id）を縮めながら検索APIを繰り返し呼び出し、
// 昇順に並べたバッチを1つずつ返す。Persister はそのバッチを投稿者と投稿に変換し、
// バッチ単位のトランザクションでアップサートする。取得と保存は同じgoroutineで交互に進む。
package harvest

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/tweetharvest/internal/metrics"
	"github.com/hitoshi/tweetharvest/internal/model"
	"github.com/hitoshi/tweetharvest/internal/twitter"
)

// DefaultInterval は検索API呼び出しの間隔。15分あたり180回の制限に収まる。
const DefaultInterval = 15 * time.Minute / 180

// Searcher は検索APIのインターフェース。
// テスト時にフェイクに差し替え可能。
type Searcher interface {
	Search(ctx context.Context, params twitter.SearchParams) (twitter.Batch, error)
}

// SearchQuery は1回の収集の条件。
type SearchQuery struct {
	// Query は検索クエリ文字列。
	Query string
	// Since は遡る下限。現在位置の日付がこれより辞書順で大きい間は取得を続ける。
	Since string
	// BatchSize は1回の呼び出しで要求する件数（上限100）。
	BatchSize int
	// Language は言語フィルタ（ISOコード）。
	Language string
}

// Fetcher はカーソル型ページングで検索結果を過去へ遡って取得する。
// バッチをまたいで保持する状態は上限カーソルのみ。
type Fetcher struct {
	searcher  Searcher
	limiter   *rate.Limiter
	cursor    model.Cursor
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewLimiter は呼び出し間隔intervalを守るリミッターを生成する。
// 初回の呼び出しは待たない。intervalが0以下なら待機しない。
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// startは「存在が分かっている最新地点」を表す起点カーソル。
func NewFetcher(
	searcher Searcher,
	limiter *rate.Limiter,
	start model.Cursor,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Fetcher {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Fetcher{
		searcher:  searcher,
		limiter:   limiter,
		cursor:    start,
		collector: collector,
		logger:    logger,
	}
}

// Cursor は現在の上限カーソルを返す。
func (f *Fetcher) Cursor() model.Cursor {
	return f.cursor
}

// Batches は作成日時の昇順に並んだバッチを順に返すイテレータを返す。
// 現在位置の日付がq.Sinceより辞書順で大きい間、検索APIを呼び出し続ける。
// 検索結果が0件の場合はEmptyResultエラー、上限カーソルが進まない場合はNoProgressエラーを返して終了する。
// エラーは1度だけ返し、その後は何も返さない。一度消費したシーケンスは再開できない。
func (f *Fetcher) Batches(ctx context.Context, q SearchQuery) iter.Seq2[twitter.Batch, error] {
	return func(yield func(twitter.Batch, error) bool) {
		for f.cursor.After(q.Since) {
			if err := f.limiter.Wait(ctx); err != nil {
				yield(nil, err)
				return
			}

			params := twitter.SearchParams{
				Query: q.Query,
				MaxID: f.cursor.MaxID,
				Count: q.BatchSize,
				Lang:  q.Language,
			}

			f.logger.Debug("検索APIを呼び出します",
				slog.String("current_date", f.cursor.Date),
				slog.Int64("max_id", params.MaxID),
				slog.Int("count", params.Count),
				slog.String("lang", params.Lang),
			)

			start := time.Now()
			batch, err := f.searcher.Search(ctx, params)
			if err != nil {
				kind := "OTHER"
				if model.IsTransport(err) {
					kind = string(model.KindTransport)
				}
				f.collector.RecordSearchFailure(kind)
				yield(nil, err)
				return
			}

			if len(batch) == 0 {
				f.collector.RecordSearchFailure(string(model.KindEmptyResult))
				f.logger.Error("検索結果が0件のため中断します",
					slog.Int64("max_id", params.MaxID),
					slog.String("current_date", f.cursor.Date),
				)
				yield(nil, model.NewEmptyResultError(params.MaxID))
				return
			}

			f.collector.RecordSearchCall(time.Since(start), len(batch))

			SortBatch(batch)
			next, ok := AdvanceCursor(batch, f.cursor)
			if !ok {
				f.collector.RecordSearchFailure(string(model.KindNoProgress))
				f.logger.Error("上限カーソルが進まないため中断します",
					slog.Int64("max_id", params.MaxID),
					slog.Int("records", len(batch)),
					slog.String("current_date", f.cursor.Date),
				)
				yield(nil, model.NewNoProgressError(params.MaxID, len(batch)))
				return
			}
			f.cursor = next

			f.logger.Info("ページを取得しました",
				slog.Int("records", len(batch)),
				slog.Int64("oldest_id", batch[0].ID),
				slog.Time("oldest_created_at", batch[0].CreatedTime),
				slog.Int64("next_max_id", f.cursor.MaxID),
				slog.String("current_date", f.cursor.Date),
			)

			if !yield(batch, nil) {
				return
			}
		}
	}
}
