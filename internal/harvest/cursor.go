package harvest

import (
	"slices"

	"github.com/hitoshi/tweetharvest/internal/model"
	"github.com/hitoshi/tweetharvest/internal/twitter"
)

// cursorOffset は次の上限カーソルに採用する、昇順バッチ内の位置（古い方から21件目）。
// 次のページと重なる最大20件はアップサートで吸収される。
const cursorOffset = 20

// SortBatch はバッチを作成日時の昇順に並べ替える。同時刻の順序は保持する。
func SortBatch(batch twitter.Batch) {
	slices.SortStableFunc(batch, func(a, b twitter.Status) int {
		return a.CreatedTime.Compare(b.CreatedTime)
	})
}

// NextCursor は昇順に並んだバッチから次の上限カーソルを選ぶ。
// 件数が cursorOffset を超える場合はその位置、それ以外は最古の投稿を使う。
// batchは空であってはならない。
func NextCursor(batch twitter.Batch) model.Cursor {
	idx := 0
	if len(batch) > cursorOffset {
		idx = cursorOffset
	}
	s := batch[idx]
	return model.NewCursor(s.ID, s.CreatedTime)
}

// AdvanceCursor はバッチから current より小さい上限カーソルを選ぶ。
// max_idは上限の投稿自身を含むため、NextCursor の位置が current 以上なら最古の投稿に切り替える。
// 最古の投稿でも進まない場合は false を返す。
func AdvanceCursor(batch twitter.Batch, current model.Cursor) (model.Cursor, bool) {
	next := NextCursor(batch)
	if next.MaxID < current.MaxID {
		return next, true
	}
	oldest := batch[0]
	if oldest.ID < current.MaxID {
		return model.NewCursor(oldest.ID, oldest.CreatedTime), true
	}
	return current, false
}
