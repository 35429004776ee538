// Package model はドメインモデルを定義する。
package model

import "time"

// Post は検索APIから取得した投稿を表す。tweetsテーブルの1行に対応する。
type Post struct {
	ID            int64
	CreatedAt     time.Time
	RetweetCount  int
	FavoriteCount int
	Lang          string
	Text          string
	Source        string // クライアントアプリ名（HTML除去済み）
	// RawJSON はAPIが返したレコードそのもの。監査と再処理用に保持する。
	RawJSON string
	// RetweetedStatus はリツイート元のレコード。リツイートでない場合はnil。
	RetweetedStatus *string
	AuthorID        int64
}
