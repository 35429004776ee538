package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	keyring.MockInit()
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/search.db")
	t.Setenv("LOG_LEVEL", "info")

	var buf bytes.Buffer
	cfg, log, err := Init(&buf, "", "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || log == nil {
		t.Fatal("expected non-nil config and logger")
	}
	if cfg.DatabaseDSN() != "/tmp/search.db" {
		t.Errorf("DatabaseDSN = %q, want %q", cfg.DatabaseDSN(), "/tmp/search.db")
	}

	// グローバルロガーがJSON出力に設定されていること
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_LogLevelFlagOverridesEnv(t *testing.T) {
	keyring.MockInit()
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("LOG_LEVEL", "info")

	var buf bytes.Buffer
	_, log, err := Init(&buf, "", "debug")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	log.Debug("debug message")
	if buf.Len() == 0 {
		t.Error("debug log should be written when --log-level=debug")
	}
}

func TestInit_WithInvalidDriver_ReturnsError(t *testing.T) {
	keyring.MockInit()
	t.Setenv("DB_DRIVER", "oracle")

	var buf bytes.Buffer
	cfg, _, err := Init(&buf, "", "")
	if err == nil {
		t.Fatal("expected error for unsupported DB_DRIVER, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://harvest:secret@db:5432/search?sslmode=disable", "postgres://harvest:xxxxx@db:5432/search?sslmode=disable"},
		{"postgres://db:5432/search", "postgres://db:5432/search"},
		{"data/search.db", "data/search.db"},
		{"host=db user=harvest password=secret", "***"},
	}
	for _, tt := range tests {
		if got := maskDatabaseURL(tt.in); got != tt.want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":9090", "http://localhost:9090/health"},
		{"127.0.0.1:8081", "http://127.0.0.1:8081/health"},
	}
	for _, tt := range tests {
		if got := healthURL(tt.addr); got != tt.want {
			t.Errorf("healthURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestRunHealthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"正常", http.StatusOK, false},
		{"DB停止", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := runHealthcheck(srv.URL + "/health")
			if (err != nil) != tt.wantErr {
				t.Errorf("runHealthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunHealthcheck_Unreachable(t *testing.T) {
	if err := runHealthcheck("http://127.0.0.1:1/health"); err == nil {
		t.Fatal("expected error for unreachable server, got nil")
	}
}
