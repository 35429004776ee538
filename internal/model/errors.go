// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はハーベスト処理のエラー種別を表す。
type ErrorKind string

const (
	// KindEmptyResult は検索結果が0件だったことを示す。実行を中断する。
	KindEmptyResult ErrorKind = "EMPTY_RESULT"
	// KindTransport はネットワークやAPIレベルの失敗を示す。リトライしない。
	KindTransport ErrorKind = "TRANSPORT"
	// KindPersistence はバッチのトランザクション内での失敗を示す。
	KindPersistence ErrorKind = "PERSISTENCE"
	// KindNoProgress は取得したページから上限カーソルを進められなかったことを示す。実行を中断する。
	KindNoProgress ErrorKind = "NO_PROGRESS"
)

// HarvestError は統一エラーフォーマットを表す。
type HarvestError struct {
	Kind    ErrorKind
	Message string
	// StatusCode はHTTPステータス（Transportのみ、不明なら0）。
	StatusCode int
	// Code はAPIまたはDBが返したエラーコード（あれば）。
	Code string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *HarvestError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code=%s)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は元のエラーを返す。
func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewEmptyResultError は検索結果0件エラーを生成する。
func NewEmptyResultError(maxID int64) *HarvestError {
	return &HarvestError{
		Kind:    KindEmptyResult,
		Message: fmt.Sprintf("検索結果が0件でした: max_id=%d", maxID),
	}
}

// NewNoProgressError はカーソルが進まないエラーを生成する。
func NewNoProgressError(maxID int64, records int) *HarvestError {
	return &HarvestError{
		Kind:    KindNoProgress,
		Message: fmt.Sprintf("上限カーソルが進みません: max_id=%d records=%d", maxID, records),
	}
}

// NewTransportError は通信エラーを生成する。
func NewTransportError(message string, statusCode int, code string, err error) *HarvestError {
	return &HarvestError{
		Kind:       KindTransport,
		Message:    message,
		StatusCode: statusCode,
		Code:       code,
		Err:        err,
	}
}

// NewPersistenceError は永続化エラーを生成する。
// tableには失敗した書き込み先のテーブル名を指定する。
func NewPersistenceError(table, code string, err error) *HarvestError {
	return &HarvestError{
		Kind:    KindPersistence,
		Message: fmt.Sprintf("%s の書き込みに失敗しました", table),
		Code:    code,
		Err:     err,
	}
}

// IsEmptyResult はerrがKindEmptyResultのHarvestErrorを含むかを返す。
func IsEmptyResult(err error) bool {
	return hasKind(err, KindEmptyResult)
}

// IsTransport はerrがKindTransportのHarvestErrorを含むかを返す。
func IsTransport(err error) bool {
	return hasKind(err, KindTransport)
}

// IsPersistence はerrがKindPersistenceのHarvestErrorを含むかを返す。
func IsPersistence(err error) bool {
	return hasKind(err, KindPersistence)
}

// IsNoProgress はerrがKindNoProgressのHarvestErrorを含むかを返す。
func IsNoProgress(err error) bool {
	return hasKind(err, KindNoProgress)
}

func hasKind(err error, kind ErrorKind) bool {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Kind == kind
	}
	return false
}
