// Package model はドメインモデルを定義する。
package model

import "time"

// Author は投稿者アカウントを表す。usersテーブルの1行に対応する。
// IDはプラットフォームが払い出す数値IDで、同じアカウントの再取得でも変わらない。
type Author struct {
	ID             int64
	ScreenName     string // 必須。usersテーブルで一意
	Description    string
	FollowersCount int
	FriendsCount   int
	StatusesCount  int
	CreatedAt      time.Time
}
