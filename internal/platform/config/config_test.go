package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_STR", "value")
	if got := GetEnv("RELAY_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv: got %q, want %q", got, "value")
	}
	t.Setenv("RELAY_TEST_STR", "")
	if got := GetEnv("RELAY_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("GetEnv empty: got %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("RELAY_TEST_INT", "42")
	if got := GetEnvInt("RELAY_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt: got %d, want 42", got)
	}
	t.Setenv("RELAY_TEST_INT", "forty-two")
	if got := GetEnvInt("RELAY_TEST_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid: got %d, want fallback 7", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("RELAY_TEST_DUR", "250ms")
	if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration: got %v, want 250ms", got)
	}
	t.Setenv("RELAY_TEST_DUR", "soon")
	if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration invalid: got %v, want fallback", got)
	}
	t.Setenv("RELAY_TEST_DUR", "-5s")
	if got := GetEnvDuration("RELAY_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration negative: got %v, want fallback", got)
	}
}

func TestLoad_reads_env_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_FROM_FILE=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_FROM_FILE", "")
	os.Unsetenv("RELAY_TEST_FROM_FILE")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("RELAY_TEST_FROM_FILE", ""); got != "from-file" {
		t.Errorf("expected value from env file, got %q", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing env file")
	}
}
