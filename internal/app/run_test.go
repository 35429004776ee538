package app

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/hitoshi/tweetharvest/internal/database"
)

// fakeSearchAPI はmax_idに応じて用意したページを返す検索APIのテストサーバー。
type fakeSearchAPI struct {
	mu     sync.Mutex
	pages  map[string][]map[string]any
	maxIDs []string
	auth   []string
}

func (f *fakeSearchAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/search/tweets.json" {
		http.NotFound(w, r)
		return
	}
	maxID := r.URL.Query().Get("max_id")
	f.maxIDs = append(f.maxIDs, maxID)
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"statuses": f.pages[maxID]})
}

func apiStatus(id int64, createdAt time.Time, userID int64) map[string]any {
	return map[string]any{
		"id":             id,
		"created_at":     createdAt.UTC().Format(time.RubyDate),
		"retweet_count":  3,
		"favorite_count": 4,
		"lang":           "ja",
		"full_text":      fmt.Sprintf("緊急事態宣言 %d", id),
		"source":         `<a href="http://twitter.com/download/iphone" rel="nofollow">Twitter for iPhone</a>`,
		"user": map[string]any{
			"id":              userID,
			"screen_name":     fmt.Sprintf("user%d", userID),
			"description":     "bio",
			"followers_count": 10,
			"friends_count":   20,
			"statuses_count":  30,
			"created_at":      "Sat Jan 01 00:00:00 +0000 2011",
		},
	}
}

// apiPage は from から1分刻みで n 件の投稿を生成する（APIと同じく新しい順）。
func apiPage(firstID int64, from time.Time, n int, userID int64) []map[string]any {
	page := make([]map[string]any, 0, n)
	for i := n - 1; i >= 0; i-- {
		page = append(page, apiStatus(firstID+int64(i), from.Add(time.Duration(i)*time.Minute), userID))
	}
	return page
}

func setHarvestEnv(t *testing.T, apiURL, dbPath string) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("TWITTER_API_KEY", "key")
	t.Setenv("TWITTER_API_SECRET", "secret")
	t.Setenv("TWITTER_ACCESS_TOKEN", "token")
	t.Setenv("TWITTER_ACCESS_TOKEN_SECRET", "token-secret")
	t.Setenv("TWITTER_API_BASE_URL", apiURL)
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUERY", "ロックダウン OR 都市封鎖")
	t.Setenv("SINCE", "2020-03-31")
	t.Setenv("START_MAX_ID", "9999")
	t.Setenv("START_DATE", "2020-04-02")
	t.Setenv("SEARCH_BATCH_SIZE", "100")
	t.Setenv("SEARCH_LANG", "ja")
	t.Setenv("SEARCH_INTERVAL", "0")
	t.Setenv("SEARCH_TIMEOUT", "5s")
	t.Setenv("METRICS_ADDR", "")
	t.Setenv("LOG_LEVEL", "info")
}

func countRows(t *testing.T, dbPath, table string) int {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("件数取得に失敗: %v", err)
	}
	return n
}

// TestRun_Harvest_SQLite は2ページの収集がSQLiteに保存され、再実行しても行が増えないことを検証する。
func TestRun_Harvest_SQLite(t *testing.T) {
	day := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeSearchAPI{pages: map[string][]map[string]any{
		// 2020-04-01 00:00〜00:24 の25件
		"9999": apiPage(101, day, 25, 42),
		// 21番目（00:20, ID 121）が次の上限になる。前日の5件はそれより古いID
		"121": append(apiPage(11, day.Add(-24*time.Hour), 5, 43), apiPage(101, day, 3, 42)...),
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "data", "search.db")
	setHarvestEnv(t, srv.URL, dbPath)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"run"}); err != nil {
		t.Fatalf("Run returned unexpected error: %v\nlog: %s", err, buf.String())
	}

	if got := strings.Join(api.maxIDs, ","); got != "9999,121" {
		t.Errorf("max_id sequence = %s, want 9999,121", got)
	}
	for i, a := range api.auth {
		if !strings.HasPrefix(a, "OAuth ") {
			t.Errorf("request %d: Authorization = %q, want OAuth header", i+1, a)
		}
	}
	if n := countRows(t, dbPath, "tweets"); n != 30 {
		t.Errorf("tweets = %d, want 30", n)
	}
	if n := countRows(t, dbPath, "users"); n != 2 {
		t.Errorf("users = %d, want 2", n)
	}
	if !strings.Contains(buf.String(), "収集が完了しました") {
		t.Errorf("summary log missing: %s", buf.String())
	}

	// 同じ範囲の再実行
	buf.Reset()
	if err := Run(&buf, []string{"run"}); err != nil {
		t.Fatalf("second Run returned unexpected error: %v", err)
	}
	if n := countRows(t, dbPath, "tweets"); n != 30 {
		t.Errorf("tweets after rerun = %d, want 30", n)
	}

	db, err := sql.Open(database.DriverSQLite, dbPath)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	defer db.Close()
	var source string
	if err := db.QueryRow("SELECT source FROM tweets WHERE id = 101").Scan(&source); err != nil {
		t.Fatalf("投稿の取得に失敗: %v", err)
	}
	if source != "Twitter for iPhone" {
		t.Errorf("source = %q, want %q", source, "Twitter for iPhone")
	}
}

// TestRun_Harvest_EmptyResult は0件応答で収集がエラー終了し、それまでのバッチが残ることを検証する。
func TestRun_Harvest_EmptyResult(t *testing.T) {
	day := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeSearchAPI{pages: map[string][]map[string]any{
		"9999": apiPage(1, day, 25, 42),
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "search.db")
	setHarvestEnv(t, srv.URL, dbPath)

	var buf bytes.Buffer
	err := Run(&buf, []string{"run"})
	if err == nil {
		t.Fatal("expected error for empty result, got nil")
	}
	if !strings.Contains(err.Error(), "EMPTY_RESULT") {
		t.Errorf("error should be an empty result error: %v", err)
	}
	if n := countRows(t, dbPath, "tweets"); n != 25 {
		t.Errorf("tweets = %d, want 25 (first batch committed)", n)
	}
}

func TestRun_Harvest_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`)
	}))
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "search.db")
	setHarvestEnv(t, srv.URL, dbPath)

	var buf bytes.Buffer
	err := Run(&buf, []string{"run"})
	if err == nil {
		t.Fatal("expected error for rate limited response, got nil")
	}
	if !strings.Contains(err.Error(), "88") {
		t.Errorf("error should carry the API code: %v", err)
	}
}

func TestRun_Harvest_MissingEnv_ReturnsError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "search.db")
	setHarvestEnv(t, "http://127.0.0.1:1", dbPath)
	t.Setenv("TWITTER_API_KEY", "")
	t.Setenv("START_MAX_ID", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"run"})
	if err == nil {
		t.Fatal("expected error for missing env vars, got nil")
	}
	for _, key := range []string{"TWITTER_API_KEY", "START_MAX_ID"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

// TestRun_Harvest_SinceFlag は--sinceが環境変数より優先されることを検証する。
func TestRun_Harvest_SinceFlag(t *testing.T) {
	day := time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeSearchAPI{pages: map[string][]map[string]any{
		"9999": apiPage(1, day, 25, 42),
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "search.db")
	setHarvestEnv(t, srv.URL, dbPath)

	// 1ページ目の21番目は2020-04-01なので、--since 2020-04-01 なら1回で終わる
	var buf bytes.Buffer
	if err := Run(&buf, []string{"run", "--since", "2020-04-01"}); err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if len(api.maxIDs) != 1 {
		t.Errorf("search calls = %d, want 1", len(api.maxIDs))
	}
}

func TestRun_Migrate_SQLite(t *testing.T) {
	keyring.MockInit()
	dbPath := filepath.Join(t.TempDir(), "nested", "search.db")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", dbPath)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err != nil {
		t.Fatalf("migrate returned unexpected error: %v\nlog: %s", err, buf.String())
	}
	if n := countRows(t, dbPath, "users"); n != 0 {
		t.Errorf("users = %d, want 0", n)
	}

	if err := Run(&buf, []string{"migrate", "--reset"}); err != nil {
		t.Fatalf("migrate --reset returned unexpected error: %v", err)
	}
}
