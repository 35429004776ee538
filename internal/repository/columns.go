package repository

import (
	"fmt"
	"strings"

	"github.com/hitoshi/tweetharvest/internal/model"
)

// column はエンティティのフィールドと列の対応を表す。
type column[T any] struct {
	name  string
	value func(v *T, d Dialect) any
	// mutable が真の列は主キー衝突時に上書きする。
	mutable bool
}

// table はエンティティ1種類分の列定義。
type table[T any] struct {
	name    string
	key     string
	columns []column[T]
}

var authorTable = table[model.Author]{
	name: "users",
	key:  "id",
	columns: []column[model.Author]{
		{name: "id", value: func(a *model.Author, _ Dialect) any { return a.ID }},
		{name: "created_at", value: func(a *model.Author, d Dialect) any { return d.FormatTime(a.CreatedAt) }},
		{name: "description", value: func(a *model.Author, _ Dialect) any { return a.Description }, mutable: true},
		{name: "followers_count", value: func(a *model.Author, _ Dialect) any { return a.FollowersCount }, mutable: true},
		{name: "friends_count", value: func(a *model.Author, _ Dialect) any { return a.FriendsCount }, mutable: true},
		{name: "statuses_count", value: func(a *model.Author, _ Dialect) any { return a.StatusesCount }, mutable: true},
		{name: "screen_name", value: func(a *model.Author, _ Dialect) any { return a.ScreenName }, mutable: true},
	},
}

var postTable = table[model.Post]{
	name: "tweets",
	key:  "id",
	columns: []column[model.Post]{
		{name: "id", value: func(p *model.Post, _ Dialect) any { return p.ID }},
		{name: "created_at", value: func(p *model.Post, d Dialect) any { return d.FormatTime(p.CreatedAt) }},
		{name: "retweet_count", value: func(p *model.Post, _ Dialect) any { return p.RetweetCount }, mutable: true},
		{name: "favorite_count", value: func(p *model.Post, _ Dialect) any { return p.FavoriteCount }, mutable: true},
		{name: "lang", value: func(p *model.Post, _ Dialect) any { return p.Lang }, mutable: true},
		{name: "text", value: func(p *model.Post, _ Dialect) any { return p.Text }, mutable: true},
		{name: "source", value: func(p *model.Post, _ Dialect) any { return p.Source }, mutable: true},
		{name: "retweeted_status", value: func(p *model.Post, _ Dialect) any { return p.RetweetedStatus }, mutable: true},
		{name: "raw_json", value: func(p *model.Post, _ Dialect) any { return p.RawJSON }, mutable: true},
		{name: "tweeted_by", value: func(p *model.Post, _ Dialect) any { return p.AuthorID }},
	},
}

// releasedHandlePrefix は手放されたscreen_nameの置き換えに使う接頭辞。screen_nameには使えない文字。
const releasedHandlePrefix = "#"

// releaseHandleSQL は別の投稿者が持つ同じscreen_nameを「接頭辞+ID」に置き換える文を組み立てる。
// 改名後に再取得されていない投稿者のscreen_nameが一意インデックスに残り続けるのを防ぐ。
func releaseHandleSQL(d Dialect) string {
	return fmt.Sprintf("UPDATE %s SET screen_name = '%s' || id WHERE screen_name = %s AND id <> %s",
		authorTable.name, releasedHandlePrefix, d.Placeholder(1), d.Placeholder(2))
}

// upsertSQL は1行分のアップサート文を組み立てる。
//
//	INSERT INTO users (id, ...) VALUES ($1, ...)
//	ON CONFLICT (id) DO UPDATE SET description = EXCLUDED.description, ...
func (t table[T]) upsertSQL(d Dialect) string {
	names := make([]string, len(t.columns))
	holders := make([]string, len(t.columns))
	var updates []string
	for i, c := range t.columns {
		names[i] = c.name
		holders[i] = d.Placeholder(i + 1)
		if c.mutable {
			updates = append(updates, c.name+" = EXCLUDED."+c.name)
		}
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(holders, ", "))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(t.key)
	b.WriteString(") DO UPDATE SET ")
	b.WriteString(strings.Join(updates, ", "))
	return b.String()
}

// args はvの各列の値を列定義の順に返す。
func (t table[T]) args(v *T, d Dialect) []any {
	out := make([]any, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.value(v, d)
	}
	return out
}
