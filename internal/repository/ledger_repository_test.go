package repository

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sql-migration-tool/internal/domain"
)

const testLedgerTable = "current_state_database"

// setupTestDB はテスト用のSQLiteデータベースを一時ディレクトリに作成する。
// インメモリDBはコネクションごとに別DBになるため、ファイルを使う。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestLedgerRepository_ListApplied_MissingTable(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(setupTestDB(t), testLedgerTable)

	_, err := repo.ListApplied(ctx)
	if !errors.Is(err, domain.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if !errors.Is(err, domain.ErrLedgerMissing) {
		t.Errorf("expected ErrLedgerMissing, got %v", err)
	}
}

func TestLedgerRepository_RecordApplied_KeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(setupTestDB(t), testLedgerTable)

	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	// 2回目は何もしない
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable (second call) failed: %v", err)
	}

	// 名前順ではなく記録順で返ることを確認する
	for _, name := range []string{"002_add_users.sql", "001_init.sql", "003_add_posts.sql"} {
		if err := repo.RecordApplied(ctx, name); err != nil {
			t.Fatalf("RecordApplied(%s) failed: %v", name, err)
		}
	}

	names, err := repo.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied failed: %v", err)
	}
	want := []string{"002_add_users.sql", "001_init.sql", "003_add_posts.sql"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestLedgerRepository_RecordApplied_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(setupTestDB(t), testLedgerTable)
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	if err := repo.RecordApplied(ctx, "001_init.sql"); err != nil {
		t.Fatalf("RecordApplied failed: %v", err)
	}

	err := repo.RecordApplied(ctx, "001_init.sql")
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	names, err := repo.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied failed: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("expected ledger to stay at 1 entry, got %v", names)
	}
}

func TestLedgerRepository_UniqueConstraint(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLedgerRepository(db, testLedgerTable)
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	if err := db.Table(testLedgerTable).Create(&LedgerEntryModel{Name: "001_init.sql"}).Error; err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	// 事前チェックをすり抜けた場合も一意制約で弾かれる
	err := db.Table(testLedgerTable).Create(&LedgerEntryModel{Name: "001_init.sql"}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("expected gorm.ErrDuplicatedKey, got %v", err)
	}
}

func TestLedgerRepository_IsDatabaseEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(setupTestDB(t), testLedgerTable)

	empty, err := repo.IsDatabaseEmpty(ctx)
	if err != nil {
		t.Fatalf("IsDatabaseEmpty failed: %v", err)
	}
	if !empty {
		t.Error("expected empty database")
	}

	if err := repo.ExecScript(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY);"); err != nil {
		t.Fatalf("ExecScript failed: %v", err)
	}

	empty, err = repo.IsDatabaseEmpty(ctx)
	if err != nil {
		t.Fatalf("IsDatabaseEmpty failed: %v", err)
	}
	if empty {
		t.Error("expected non-empty database")
	}
}

func TestLedgerRepository_Transaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLedgerRepository(db, testLedgerTable)
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	wantErr := errors.New("boom")
	err := repo.Transaction(ctx, func(ctx context.Context) error {
		if err := repo.ExecScript(ctx, "CREATE TABLE posts (id INTEGER);"); err != nil {
			return err
		}
		if err := repo.RecordApplied(ctx, "001_posts.sql"); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	names, err := repo.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no ledger entries after rollback, got %v", names)
	}
	if db.Migrator().HasTable("posts") {
		t.Error("expected posts table to be rolled back")
	}
}

func TestLedgerRepository_Transaction_Commit(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewLedgerRepository(db, testLedgerTable)
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}

	err := repo.Transaction(ctx, func(ctx context.Context) error {
		script := "CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);"
		if err := repo.ExecScript(ctx, script); err != nil {
			return err
		}
		return repo.RecordApplied(ctx, "001_ab.sql")
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	for _, table := range []string{"a", "b"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table %s was not created", table)
		}
	}
	names, err := repo.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"001_ab.sql"}) {
		t.Errorf("unexpected ledger: %v", names)
	}
}
