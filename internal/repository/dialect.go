package repository

import (
	"fmt"
	"strconv"
	"time"
)

// Dialect はバックエンドごとのSQL方言の差分を表す。
// アップサート（INSERT ... ON CONFLICT DO UPDATE）とトランザクションの契約はどの方言でも同じ。
type Dialect struct {
	// Name はdatabase/sqlのドライバ名。
	Name string
	// Placeholder はn番目（1始まり）のバインド変数を返す。
	Placeholder func(n int) string
	// FormatTime は日時をストア固有の日時リテラル表現に変換する。
	FormatTime func(t time.Time) any
}

// sqliteTimeLayout はSQLiteのdatetime()と同じ形式。
const sqliteTimeLayout = "2006-01-02 15:04:05"

// Postgres はPostgreSQL（lib/pq）の方言。
var Postgres = Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	FormatTime:  func(t time.Time) any { return t.UTC() },
}

// SQLite はSQLite（mattn/go-sqlite3）の方言。
var SQLite = Dialect{
	Name:        "sqlite3",
	Placeholder: func(int) string { return "?" },
	FormatTime:  func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
}

// DialectFor はドライバ名に対応する方言を返す。
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("未対応のデータベースドライバです: %s", driver)
	}
}
