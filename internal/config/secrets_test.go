package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		file    *string
		want    string
		wantErr bool
	}{
		{name: "env only", env: "env-value", want: "env-value"},
		{name: "file only", file: strPtr("file-value\n"), want: "file-value"},
		{name: "file wins over env", env: "env-value", file: strPtr("file-value"), want: "file-value"},
		{name: "neither set", want: ""},
		{name: "trims whitespace", file: strPtr("  secret  \n\n"), want: "secret"},
		{name: "empty file", file: strPtr(""), want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const envName = "TEST_OBS_SECRET"
			t.Setenv(envName, tc.env)
			t.Setenv(envName+"_FILE", "")
			if tc.file != nil {
				t.Setenv(envName+"_FILE", writeSecret(t, *tc.file))
			}

			got, err := ResolveSecret(envName)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveSecret_FileNotFound(t *testing.T) {
	t.Setenv("TEST_OBS_MISSING_FILE", "/nonexistent/path/to/secret")
	if _, err := ResolveSecret("TEST_OBS_MISSING"); err == nil {
		t.Error("expected error when file does not exist")
	}
}

func TestResolveSecret_EmptyName(t *testing.T) {
	got, err := ResolveSecret("")
	if err != nil || got != "" {
		t.Errorf("got (%q, %v), want empty", got, err)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\nstorage:\n  postgres:\n    password_env: TEST_PG_PASS\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Setenv("TEST_PG_PASS", "")
	t.Setenv("TEST_PG_PASS_FILE", "")
	dsn, err := cfg.PostgresDSN()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(dsn, "password=") {
		t.Errorf("dsn should omit empty password: %s", dsn)
	}

	t.Setenv("TEST_PG_PASS_FILE", writeSecret(t, "hunter2\n"))
	dsn, err = cfg.PostgresDSN()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "host=127.0.0.1 port=5432 user=graphics dbname=graphics sslmode=disable password=hunter2"
	if dsn != want {
		t.Errorf("got %q, want %q", dsn, want)
	}
}

func strPtr(s string) *string { return &s }
