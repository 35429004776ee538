package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/hitoshi/tweetharvest/internal/model"
)

// SQLBatchRepo はdatabase/sqlを使用したBatchRepositoryの実装。
// アップサート文は生成時に方言ごとに1度だけ組み立て、バッチごとに準備して使い回す。
type SQLBatchRepo struct {
	db         *sql.DB
	dialect    Dialect
	releaseSQL string
	authorSQL  string
	postSQL    string
}

// NewSQLBatchRepo はSQLBatchRepoを生成する。
func NewSQLBatchRepo(db *sql.DB, dialect Dialect) *SQLBatchRepo {
	return &SQLBatchRepo{
		db:         db,
		dialect:    dialect,
		releaseSQL: releaseHandleSQL(dialect),
		authorSQL:  authorTable.upsertSQL(dialect),
		postSQL:    postTable.upsertSQL(dialect),
	}
}

// UpsertBatch は投稿者と投稿を同一トランザクションでアップサートする。
// 投稿の外部キーが同じトランザクション内の投稿者を参照できるよう、投稿者を先に書き込む。
// 投稿者ごとに、同じscreen_nameを持つ別IDの行を先に解放してから書き込む。
func (r *SQLBatchRepo) UpsertBatch(ctx context.Context, authors []model.Author, posts []model.Post) error {
	if len(authors) == 0 && len(posts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewPersistenceError("transaction", errorCode(err), err)
	}
	defer tx.Rollback()

	if err := r.upsertAuthors(ctx, tx, authors); err != nil {
		return err
	}
	if err := upsertAll(ctx, tx, r.postSQL, postTable, posts, r.dialect); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return model.NewPersistenceError("transaction", errorCode(err), fmt.Errorf("コミットに失敗しました: %w", err))
	}

	return nil
}

func (r *SQLBatchRepo) upsertAuthors(ctx context.Context, tx *sql.Tx, authors []model.Author) error {
	if len(authors) == 0 {
		return nil
	}

	release, err := tx.PrepareContext(ctx, r.releaseSQL)
	if err != nil {
		return model.NewPersistenceError(authorTable.name, errorCode(err), err)
	}
	defer release.Close()

	upsert, err := tx.PrepareContext(ctx, r.authorSQL)
	if err != nil {
		return model.NewPersistenceError(authorTable.name, errorCode(err), err)
	}
	defer upsert.Close()

	for i := range authors {
		a := &authors[i]
		if _, err := release.ExecContext(ctx, a.ScreenName, a.ID); err != nil {
			return model.NewPersistenceError(authorTable.name, errorCode(err), fmt.Errorf("screen_name の解放に失敗しました: %w", err))
		}
		if _, err := upsert.ExecContext(ctx, authorTable.args(a, r.dialect)...); err != nil {
			return model.NewPersistenceError(authorTable.name, errorCode(err), err)
		}
	}
	return nil
}

// upsertAll はrowsをquery（1行分のアップサート文）で順に書き込む。
func upsertAll[T any](ctx context.Context, tx *sql.Tx, query string, t table[T], rows []T, d Dialect) error {
	if len(rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return model.NewPersistenceError(t.name, errorCode(err), err)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, t.args(&rows[i], d)...); err != nil {
			return model.NewPersistenceError(t.name, errorCode(err), err)
		}
	}
	return nil
}

// CountAuthors はusersテーブルの行数を返す。
func (r *SQLBatchRepo) CountAuthors(ctx context.Context) (int, error) {
	return r.count(ctx, authorTable.name)
}

// CountPosts はtweetsテーブルの行数を返す。
func (r *SQLBatchRepo) CountPosts(ctx context.Context) (int, error) {
	return r.count(ctx, postTable.name)
}

func (r *SQLBatchRepo) count(ctx context.Context, tableName string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s の件数取得に失敗しました: %w", tableName, err)
	}
	return n, nil
}

// errorCode はドライバ固有のエラーコードを取り出す。
// PostgreSQLはSQLSTATE、SQLiteは拡張リザルトコードを返す。
func errorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strconv.Itoa(int(sqliteErr.ExtendedCode))
	}
	return ""
}
