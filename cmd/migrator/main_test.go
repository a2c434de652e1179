package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_system_settings.up.sql",
		"0001_messaging_logs.up.sql",
		"0001_messaging_logs.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "9999_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	names, err := migrationFiles(dir)
	if err != nil {
		t.Fatalf("migrationFiles() failed: %v", err)
	}

	want := []string{"0001_messaging_logs.up.sql", "0002_system_settings.up.sql"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMigrationFiles_MissingDir(t *testing.T) {
	if _, err := migrationFiles(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRepoMigrationsPresent(t *testing.T) {
	names, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("migrationFiles() failed: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_messaging_logs.up.sql" {
		t.Errorf("unexpected migrations: %v", names)
	}
}
