package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// TestRun_ServeCommand_FailsWithoutDatabase はserveコマンドがDB接続に失敗した場合にエラーを返すことを検証する。
func TestRun_ServeCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("expected error when database is unreachable")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %q, want database related error", err.Error())
	}
}

// TestRun_DefaultCommand_FailsWithoutDatabase はデフォルトコマンド（serve）がDB接続を試みることを検証する。
func TestRun_DefaultCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{}); err == nil {
		t.Fatal("expected error when database is unreachable")
	}
}

// TestRun_MigrateCommand_FailsWithoutDatabase はmigrateコマンドがDB接続に失敗した場合にエラーを返すことを検証する。
func TestRun_MigrateCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	for _, action := range []string{"up", "down", "version"} {
		t.Run(action, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Run(&buf, []string{"migrate", action}); err == nil {
				t.Fatalf("migrate %s: expected error when database is unreachable", action)
			}
		})
	}
}

func TestRun_MigrateCommand_UnknownAction_ReturnsError(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate", "sideways"})
	if err == nil {
		t.Fatal("expected error for unknown migrate action")
	}
	if !strings.Contains(err.Error(), "sideways") {
		t.Errorf("error = %q, want it to mention the action", err.Error())
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	testChdir(t, t.TempDir())

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_Healthcheck_UsesServerPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	t.Setenv("SERVER_PORT", u.Port())
	// healthcheckは設定読み込みを行わないため、DATABASE_URLが空でも成功する
	t.Setenv("DATABASE_URL", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err != nil {
		t.Fatalf("expected healthcheck to succeed, got %v", err)
	}
}

func TestRunHealthcheck_UnhealthyStatus_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	if err := runHealthcheck(u.Port()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", testDatabaseURL)
	t.Setenv("AUTO_MIGRATE", "false")
}
