package security

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/text/unicode/norm"
)

// fakeRecorder はテスト用のAnomalyRecorder。
type fakeRecorder struct {
	kinds []string
}

func (f *fakeRecorder) RecordEncodingAnomaly(kind string) {
	f.kinds = append(f.kinds, kind)
}

func newTestSanitizer(buf *bytes.Buffer) (*contentSanitizer, *fakeRecorder) {
	rec := &fakeRecorder{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewContentSanitizer(logger, rec), rec
}

// TestClean_RemovesNUL はNUL文字が除去され、エラーログが出力されることを検証する。
func TestClean_RemovesNUL(t *testing.T) {
	var buf bytes.Buffer
	s, rec := newTestSanitizer(&buf)

	got := s.Clean("text", "ロック\x00ダウン")

	if strings.ContainsRune(got, 0) {
		t.Fatalf("NUL文字が残っている: %q", got)
	}
	if got != norm.NFD.String("ロックダウン") {
		t.Errorf("Clean() = %q, want %q", got, norm.NFD.String("ロックダウン"))
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ログがJSONではない: %v\nraw: %s", err, buf.String())
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["field"] != "text" {
		t.Errorf("field = %v, want text", entry["field"])
	}
	if len(rec.kinds) != 1 || rec.kinds[0] != "nul" {
		t.Errorf("recorded kinds = %v, want [nul]", rec.kinds)
	}
}

// TestClean_NormalizesToNFD は合成済み文字が分解形で保存されることを検証する。
func TestClean_NormalizesToNFD(t *testing.T) {
	var buf bytes.Buffer
	s, rec := newTestSanitizer(&buf)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"濁点付きカタカナ", "\u30c0", "\u30bf\u3099"},
		{"アクセント付きラテン文字", "caf\u00e9", "cafe\u0301"},
		{"分解済みはそのまま", "cafe\u0301", "cafe\u0301"},
		{"ASCIIはそのまま", "lockdown", "lockdown"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Clean("text", tt.input); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if buf.Len() != 0 {
		t.Errorf("正常な入力でログが出力された: %s", buf.String())
	}
	if len(rec.kinds) != 0 {
		t.Errorf("正常な入力で異常が記録された: %v", rec.kinds)
	}
}

// TestClean_DropsInvalidUTF8 は不正なバイト列が除去されることを検証する。
func TestClean_DropsInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	s, rec := newTestSanitizer(&buf)

	got := s.Clean("description", "ok\xff\xfeok")

	if got != "okok" {
		t.Errorf("Clean() = %q, want %q", got, "okok")
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("WARNログが出力されていない: %s", buf.String())
	}
	if len(rec.kinds) != 1 || rec.kinds[0] != "invalid_utf8" {
		t.Errorf("recorded kinds = %v, want [invalid_utf8]", rec.kinds)
	}
}

// TestCleanRaw_DoesNotNormalize は生レコードには正規化を適用しないことを検証する。
func TestCleanRaw_DoesNotNormalize(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestSanitizer(&buf)

	raw := `{"text":"caf` + "é" + `"}`
	if got := s.CleanRaw("raw_json", raw); got != raw {
		t.Errorf("CleanRaw() = %q, want %q", got, raw)
	}

	if got := s.CleanRaw("raw_json", "a\x00b"); got != "ab" {
		t.Errorf("CleanRaw() = %q, want %q", got, "ab")
	}
}

// TestSourceLabel はクライアントアプリのHTMLからラベルだけを取り出すことを検証する。
func TestSourceLabel(t *testing.T) {
	var buf bytes.Buffer
	s, _ := newTestSanitizer(&buf)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "アンカータグ",
			input: `<a href="http://twitter.com/download/iphone" rel="nofollow">Twitter for iPhone</a>`,
			want:  "Twitter for iPhone",
		},
		{
			name:  "実体参照",
			input: `<a href="https://example.com">Tom &amp; Jerry</a>`,
			want:  "Tom & Jerry",
		},
		{
			name:  "スクリプトは除去",
			input: `<script>alert(1)</script>web`,
			want:  "web",
		},
		{
			name:  "空文字列",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SourceLabel(tt.input); got != tt.want {
				t.Errorf("SourceLabel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestContentSanitizer_ImplementsInterface はインターフェースを満たすことを検証する。
func TestContentSanitizer_ImplementsInterface(t *testing.T) {
	var _ ContentSanitizerService = NewContentSanitizer(nil, nil)
}
