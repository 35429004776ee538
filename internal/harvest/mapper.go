package harvest

import (
	"github.com/hitoshi/tweetharvest/internal/model"
	"github.com/hitoshi/tweetharvest/internal/security"
	"github.com/hitoshi/tweetharvest/internal/twitter"
)

// Mapper は検索APIのレコードを保存用の投稿者と投稿に変換する。
// 文字列フィールドはすべてサニタイザーを通す。
type Mapper struct {
	sanitizer security.ContentSanitizerService
}

// NewMapper はMapperの新しいインスタンスを生成する。
func NewMapper(sanitizer security.ContentSanitizerService) *Mapper {
	return &Mapper{sanitizer: sanitizer}
}

// Map はバッチを投稿者と投稿に分解する。
// 投稿者はIDで重複を除き、最初に現れた順に並べる。値はバッチ内で最も後ろ（昇順なら最新）の
// 投稿に埋め込まれたものを採用する。投稿はバッチの順序のまま返す。
func (m *Mapper) Map(batch twitter.Batch) ([]model.Author, []model.Post) {
	authors := make([]model.Author, 0, len(batch))
	index := make(map[int64]int, len(batch))
	posts := make([]model.Post, 0, len(batch))

	for i := range batch {
		s := &batch[i]

		a := m.author(&s.User)
		if j, ok := index[a.ID]; ok {
			authors[j] = a
		} else {
			index[a.ID] = len(authors)
			authors = append(authors, a)
		}

		posts = append(posts, m.post(s))
	}

	return authors, posts
}

func (m *Mapper) author(u *twitter.User) model.Author {
	return model.Author{
		ID:             u.ID,
		ScreenName:     m.sanitizer.Clean("screen_name", u.ScreenName),
		Description:    m.sanitizer.Clean("description", u.Description),
		FollowersCount: u.FollowersCount,
		FriendsCount:   u.FriendsCount,
		StatusesCount:  u.StatusesCount,
		CreatedAt:      u.CreatedTime,
	}
}

func (m *Mapper) post(s *twitter.Status) model.Post {
	p := model.Post{
		ID:            s.ID,
		CreatedAt:     s.CreatedTime,
		RetweetCount:  s.RetweetCount,
		FavoriteCount: s.FavoriteCount,
		Lang:          m.sanitizer.Clean("lang", s.Lang),
		Text:          m.sanitizer.Clean("text", s.Body()),
		Source:        m.sanitizer.SourceLabel(s.Source),
		RawJSON:       m.sanitizer.CleanRaw("raw_json", s.Raw),
		AuthorID:      s.User.ID,
	}
	if s.IsRetweet() {
		rt := m.sanitizer.CleanRaw("retweeted_status", string(s.RetweetedStatus))
		p.RetweetedStatus = &rt
	}
	return p
}
