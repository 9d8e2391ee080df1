package repository

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sql-migration-tool/internal/domain"
)

// SchemaRepository はデータベース全体のテーブル操作を提供する。
type SchemaRepository struct {
	db *gorm.DB
}

// NewSchemaRepository は新しいSchemaRepositoryを生成する。
func NewSchemaRepository(db *gorm.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// ListTables は現在のデータベースのテーブル名を取得する。
func (r *SchemaRepository) ListTables(ctx context.Context) ([]string, error) {
	tables, err := listTables(conn(ctx, r.db))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list tables",
			"operation", "list_tables",
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return tables, nil
}

// DropAllTables は全テーブルを削除する。外部キー制約は削除中のみ無効化される。
func (r *SchemaRepository) DropAllTables(ctx context.Context) error {
	tables, err := r.ListTables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	disableFK, enableFK := foreignKeyToggles(r.db.Dialector.Name())

	// SETやPRAGMAはセッション単位のため、同一コネクションで実行する
	err = conn(ctx, r.db).Connection(func(tx *gorm.DB) error {
		if disableFK != "" {
			if err := tx.Exec(disableFK).Error; err != nil {
				return err
			}
			defer tx.Exec(enableFK)
		}
		for _, table := range tables {
			if err := tx.Exec("DROP TABLE IF EXISTS ?", clause.Table{Name: table}).Error; err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to drop tables",
			"operation", "drop_all_tables",
			"tables", tables,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	slog.InfoContext(ctx, "dropped all tables", "count", len(tables))
	return nil
}

func foreignKeyToggles(dialect string) (disable, enable string) {
	switch dialect {
	case "mysql":
		return "SET FOREIGN_KEY_CHECKS = 0", "SET FOREIGN_KEY_CHECKS = 1"
	case "sqlite":
		return "PRAGMA foreign_keys = OFF", "PRAGMA foreign_keys = ON"
	default:
		return "", ""
	}
}
