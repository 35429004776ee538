package twitter

import (
	"encoding/json"
	"fmt"
	"time"
)

// CreatedAtLayout は検索APIが返す作成日時のフォーマット（UTC固定）。
// 例: "Wed Apr 01 00:20:00 +0000 2020"
const CreatedAtLayout = time.RubyDate

// Status は検索APIが返す投稿レコード。
// Raw にはAPIが返したJSONをそのまま保持する。
type Status struct {
	ID            int64  `json:"id"`
	CreatedAt     string `json:"created_at"`
	RetweetCount  int    `json:"retweet_count"`
	FavoriteCount int    `json:"favorite_count"`
	Lang          string `json:"lang"`
	Text          string `json:"text"`
	FullText      string `json:"full_text"`
	Source        string `json:"source"`
	User          User   `json:"user"`
	// RetweetedStatus はリツイート元のレコード。リツイートでなければ空かnull。
	RetweetedStatus json.RawMessage `json:"retweeted_status"`

	CreatedTime time.Time `json:"-"`
	Raw         string    `json:"-"`
}

// User は投稿に埋め込まれた投稿者レコード。
type User struct {
	ID             int64  `json:"id"`
	ScreenName     string `json:"screen_name"`
	Description    string `json:"description"`
	FollowersCount int    `json:"followers_count"`
	FriendsCount   int    `json:"friends_count"`
	StatusesCount  int    `json:"statuses_count"`
	CreatedAt      string `json:"created_at"`

	CreatedTime time.Time `json:"-"`
}

// Batch は1回の検索API呼び出しで得られたレコード列。
type Batch []Status

// Body は本文を返す。tweet_mode=extended ではfull_textに入る。
func (s *Status) Body() string {
	if s.FullText != "" {
		return s.FullText
	}
	return s.Text
}

// IsRetweet はリツイート元のレコードを持つかを返す。
func (s *Status) IsRetweet() bool {
	return len(s.RetweetedStatus) > 0 && string(s.RetweetedStatus) != "null"
}

// decodeStatus は1件分のJSONをStatusに変換し、日時をパースする。
func decodeStatus(raw json.RawMessage) (Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, fmt.Errorf("投稿レコードのパースに失敗しました: %w", err)
	}
	s.Raw = string(raw)

	t, err := time.Parse(CreatedAtLayout, s.CreatedAt)
	if err != nil {
		return Status{}, fmt.Errorf("投稿 %d の created_at をパースできません: %w", s.ID, err)
	}
	s.CreatedTime = t.UTC()

	ut, err := time.Parse(CreatedAtLayout, s.User.CreatedAt)
	if err != nil {
		return Status{}, fmt.Errorf("投稿者 %d の created_at をパースできません: %w", s.User.ID, err)
	}
	s.User.CreatedTime = ut.UTC()

	return s, nil
}
