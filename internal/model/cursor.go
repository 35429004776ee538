package model

import "time"

// DateLayout は現在位置の日付を辞書順比較するための粗い日付フォーマット。
const DateLayout = "2006-01-02"

// Cursor は次に検索APIへ渡す上限IDと、その投稿の日付を保持する。
// Dateは DateLayout 形式で、sinceとの辞書順比較に使う。
type Cursor struct {
	MaxID int64
	Date  string
}

// NewCursor は投稿IDと作成日時からCursorを生成する。
func NewCursor(id int64, createdAt time.Time) Cursor {
	return Cursor{MaxID: id, Date: createdAt.UTC().Format(DateLayout)}
}

// After はカーソルの日付がsinceより辞書順で後ろにあるかを返す。
func (c Cursor) After(since string) bool {
	return c.Date > since
}
