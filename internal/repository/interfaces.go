// Package repository はデータ永続化のインターフェースと実装を定義する。
package repository

import (
	"context"

	"github.com/hitoshi/tweetharvest/internal/model"
)

// BatchRepository は投稿者と投稿をバッチ単位で永続化するインターフェース。
type BatchRepository interface {
	// UpsertBatch は投稿者、投稿の順に主キーでアップサートする。
	// 2つの書き込みは同一トランザクションで行い、どちらかが失敗した場合はバッチ全体を
	// ロールバックしてPersistenceエラーを返す。
	UpsertBatch(ctx context.Context, authors []model.Author, posts []model.Post) error

	// CountAuthors はusersテーブルの行数を返す。
	CountAuthors(ctx context.Context) (int, error)

	// CountPosts はtweetsテーブルの行数を返す。
	CountPosts(ctx context.Context) (int, error)
}
