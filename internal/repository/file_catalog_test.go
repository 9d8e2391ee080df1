package repository

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"sql-migration-tool/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestFileCatalog_ListSourceFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_c.sql", "002_b.sql", "001_a.sql", "README.md"} {
		writeFile(t, filepath.Join(dir, name), "SELECT 1;")
	}
	// サブディレクトリは対象外
	if err := os.Mkdir(filepath.Join(dir, "003_nested.sql"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	files, err := NewFileCatalog().ListSourceFiles(dir)
	if err != nil {
		t.Fatalf("ListSourceFiles failed: %v", err)
	}

	want := []string{"001_a.sql", "002_b.sql", "010_c.sql"}
	if got := domain.FileNames(files); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if files[0].Path != filepath.Join(dir, "001_a.sql") {
		t.Errorf("unexpected path: %s", files[0].Path)
	}
}

func TestFileCatalog_ListSourceFiles_MissingDir(t *testing.T) {
	_, err := NewFileCatalog().ListSourceFiles(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestFileCatalog_ListBackupFiles_ChronologicalOrder(t *testing.T) {
	dir := t.TempDir()

	// 名前の辞書順と日時順が一致しない組み合わせ
	names := []string{
		"test-01.02.2024-10.00.00.sql",
		"test-05.01.2024-10.00.00.sql",
		"test-05.01.2024-09.00.00.sql.enc",
		"notes.txt",
	}
	for _, name := range names {
		writeFile(t, filepath.Join(dir, name), "-- dump")
	}

	artifacts, err := NewFileCatalog().ListBackupFiles(dir)
	if err != nil {
		t.Fatalf("ListBackupFiles failed: %v", err)
	}

	var got []string
	for _, a := range artifacts {
		got = append(got, a.Name)
	}
	want := []string{
		"test-05.01.2024-09.00.00.sql.enc",
		"test-05.01.2024-10.00.00.sql",
		"test-01.02.2024-10.00.00.sql",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if !artifacts[0].Sealed {
		t.Error("expected .sql.enc artifact to be sealed")
	}
}

func TestFileCatalog_ListBackupFiles_FallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	manual := filepath.Join(dir, "manual.sql")
	writeFile(t, manual, "-- dump")
	writeFile(t, filepath.Join(dir, "test-01.01.2030-00.00.00.sql"), "-- dump")

	old := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.Local)
	if err := os.Chtimes(manual, old, old); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}

	artifacts, err := NewFileCatalog().ListBackupFiles(dir)
	if err != nil {
		t.Fatalf("ListBackupFiles failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}
	if artifacts[0].Name != "manual.sql" {
		t.Errorf("expected manual.sql first, got %s", artifacts[0].Name)
	}
}

func TestFileCatalog_ListBackupFiles_Empty(t *testing.T) {
	artifacts, err := NewFileCatalog().ListBackupFiles(t.TempDir())
	if err != nil {
		t.Fatalf("ListBackupFiles failed: %v", err)
	}
	if len(artifacts) != 0 {
		t.Errorf("expected no artifacts, got %v", artifacts)
	}
}
