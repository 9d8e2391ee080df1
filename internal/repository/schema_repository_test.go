package repository

import (
	"context"
	"testing"
)

func TestSchemaRepository_DropAllTables(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewSchemaRepository(db)

	sql := `
		CREATE TABLE users (id INTEGER PRIMARY KEY);
		CREATE TABLE posts (
			id INTEGER PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id)
		);
		INSERT INTO users (id) VALUES (1);
		INSERT INTO posts (id, user_id) VALUES (1, 1);
	`
	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}

	tables, err := repo.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", tables)
	}

	if err := repo.DropAllTables(ctx); err != nil {
		t.Fatalf("DropAllTables failed: %v", err)
	}

	tables, err = repo.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("expected no tables, got %v", tables)
	}
}

func TestSchemaRepository_DropAllTables_Empty(t *testing.T) {
	repo := NewSchemaRepository(setupTestDB(t))
	if err := repo.DropAllTables(context.Background()); err != nil {
		t.Errorf("expected no error on empty database, got %v", err)
	}
}
