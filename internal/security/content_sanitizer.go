// Package security は保存前のテキスト検査と無害化を提供する。
//
// ContentSanitizerService は検索APIから受け取った文字列を、ストレージが受け付ける形に整える。
// 不正なUTF-8バイト列とNUL文字を取り除き、本文系のフィールドにはUnicode正規化（NFD）を適用する。
// NUL文字の混入は中断理由にはせず、除去したうえでエラーレベルのログに残す。
package security

import (
	"html"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AnomalyRecorder はエンコーディング異常の検出を記録するインターフェース。
// metrics.Collector が実装する。
type AnomalyRecorder interface {
	RecordEncodingAnomaly(kind string)
}

// ContentSanitizerService はテキスト無害化機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Clean は本文系フィールド（本文、自己紹介、ハンドル等）を無害化する。
	// 不正バイト列とNUL文字を除去し、NFDで正規化した文字列を返す。
	Clean(field, text string) string

	// CleanRaw は生レコード（JSON）のように正規化してはならない文字列を無害化する。
	// 不正バイト列とNUL文字の除去のみを行う。
	CleanRaw(field, text string) string

	// SourceLabel はクライアントアプリを表すHTML断片からタグを除去し、表示名だけを返す。
	SourceLabel(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーは生成時に1度だけ構築し、以降はスレッドセーフに再利用する。
type contentSanitizer struct {
	policy   *bluemonday.Policy
	logger   *slog.Logger
	recorder AnomalyRecorder
	nul      transform.Transformer
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// recorderはnilでもよい。
func NewContentSanitizer(logger *slog.Logger, recorder AnomalyRecorder) *contentSanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &contentSanitizer{
		policy:   bluemonday.StrictPolicy(),
		logger:   logger,
		recorder: recorder,
		nul:      runes.Remove(runes.Predicate(func(r rune) bool { return r == 0 })),
	}
}

// Clean は本文系フィールドを無害化してNFDで正規化する。
func (s *contentSanitizer) Clean(field, text string) string {
	return norm.NFD.String(s.strip(field, text))
}

// CleanRaw は不正バイト列とNUL文字のみを除去する。
func (s *contentSanitizer) CleanRaw(field, text string) string {
	return s.strip(field, text)
}

// SourceLabel はHTMLタグを除去してクライアント名を返す。
// 例: `<a href="http://twitter.com/download/iphone">Twitter for iPhone</a>` → "Twitter for iPhone"
func (s *contentSanitizer) SourceLabel(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	label := html.UnescapeString(s.policy.Sanitize(rawHTML))
	return s.Clean("source", strings.TrimSpace(label))
}

func (s *contentSanitizer) strip(field, text string) string {
	if !utf8.ValidString(text) {
		s.logger.Warn("不正なUTF-8バイト列を除去しました",
			slog.String("field", field),
		)
		s.record("invalid_utf8")
		text = strings.ToValidUTF8(text, "")
	}

	if strings.IndexByte(text, 0) >= 0 {
		s.logger.Error("NUL文字を含むテキストを検出しました",
			slog.String("field", field),
			slog.String("text", strings.ReplaceAll(text, "\x00", `\0`)),
		)
		s.record("nul")
		text, _, _ = transform.String(s.nul, text)
	}

	return text
}

func (s *contentSanitizer) record(kind string) {
	if s.recorder != nil {
		s.recorder.RecordEncodingAnomaly(kind)
	}
}
