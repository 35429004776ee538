package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/tweetharvest/internal/metrics"
	"github.com/hitoshi/tweetharvest/internal/model"
)

// BatchWriter は1バッチ分の投稿者と投稿を1トランザクションで書き込むインターフェース。
// 両方成功した場合のみコミットし、失敗時はバッチ全体をロールバックしてエラーを返す。
type BatchWriter interface {
	UpsertBatch(ctx context.Context, authors []model.Author, posts []model.Post) error
}

// Summary は1回の収集の結果。
type Summary struct {
	Batches int
	Posts   int
	// Authors は収集中に書き込んだ投稿者の異なり数。
	Authors  int
	Cursor   model.Cursor
	Duration time.Duration
}

// Persister はFetcherのバッチを順に取り出し、ストアへアップサートする。
type Persister struct {
	fetcher   *Fetcher
	writer    BatchWriter
	mapper    *Mapper
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewPersister はPersisterの新しいインスタンスを生成する。
func NewPersister(
	fetcher *Fetcher,
	writer BatchWriter,
	mapper *Mapper,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Persister {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Persister{
		fetcher:   fetcher,
		writer:    writer,
		mapper:    mapper,
		collector: collector,
		logger:    logger,
	}
}

// Run はqの条件で収集を実行し、バッチごとにアップサートする。
// 次のバッチを取得する前に、現在のバッチのコミットまたはロールバックを完了させる。
// 検索・保存いずれのエラーもリトライせずにそのまま返す。
// エラー時点までにコミット済みのバッチは残る。
func (p *Persister) Run(ctx context.Context, q SearchQuery) (sum Summary, err error) {
	start := time.Now()
	seen := make(map[int64]struct{})

	defer func() {
		sum.Cursor = p.fetcher.Cursor()
		sum.Duration = time.Since(start)
	}()

	for batch, err := range p.fetcher.Batches(ctx, q) {
		if err != nil {
			return sum, fmt.Errorf("検索に失敗しました（%d バッチ保存済み）: %w", sum.Batches, err)
		}

		authors, posts := p.mapper.Map(batch)

		if err := p.writer.UpsertBatch(ctx, authors, posts); err != nil {
			p.collector.RecordBatchRolledBack()
			p.logger.Error("バッチの保存に失敗したためロールバックしました",
				slog.Int("batch", sum.Batches+1),
				slog.Int("authors", len(authors)),
				slog.Int("posts", len(posts)),
				slog.String("error", err.Error()),
			)
			return sum, fmt.Errorf("バッチ %d の保存に失敗しました: %w", sum.Batches+1, err)
		}

		p.collector.RecordBatchCommitted(len(authors), len(posts))
		sum.Batches++
		sum.Posts += len(posts)
		for _, a := range authors {
			seen[a.ID] = struct{}{}
		}
		sum.Authors = len(seen)

		p.logger.Info("バッチを保存しました",
			slog.Int("batch", sum.Batches),
			slog.Int("authors", len(authors)),
			slog.Int("posts", len(posts)),
			slog.Int64("next_max_id", p.fetcher.Cursor().MaxID),
		)
	}

	return sum, nil
}
