package database

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/m3rciful/tgrelay/core/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db", Port: "5432", User: "relay", Password: "p ss'w", Name: "tgrelay", SSLMode: "disable",
	}
	want := `user=relay password='p ss\'w' host=db port=5432 dbname=tgrelay sslmode=disable`
	if got := DSN(cfg); got != want {
		t.Fatalf("DSN = %s\nwant  %s", got, want)
	}
}

func TestURLEscapesCredentials(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db", Port: "5432", User: "relay", Password: "p@ss/word", Name: "tgrelay", SSLMode: "require",
	}
	want := "postgres://relay:p%40ss%2Fword@db:5432/tgrelay?sslmode=require"
	if got := URL(cfg); got != want {
		t.Fatalf("URL = %s, want %s", got, want)
	}
}

func TestMigrationFileSelection(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "0003_c.up.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	files := listMigrationFiles(dir)
	if want := []string{"0001_a.up.sql", "0002_b.up.sql", "0003_c.up.sql"}; !reflect.DeepEqual(files, want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
	if got := selectApplied(files, 1, 3); !reflect.DeepEqual(got, []string{"0002_b.up.sql", "0003_c.up.sql"}) {
		t.Fatalf("applied = %v", got)
	}
	if got := selectApplied(files, 3, 3); got != nil {
		t.Fatalf("expected nothing applied, got %v", got)
	}
	if parseVersion("garbage") != 0 {
		t.Fatal("non-numeric prefix should parse as 0")
	}
}

func TestRepositoryMigrationsPresent(t *testing.T) {
	files := listMigrationFiles(filepath.Join("..", "..", "migrations"))
	if len(files) == 0 {
		t.Fatal("no up migrations found in repository migrations dir")
	}
}
