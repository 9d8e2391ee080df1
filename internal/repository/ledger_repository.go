package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"sql-migration-tool/internal/domain"
)

// LedgerEntryModel は適用済みマイグレーション台帳のモデル。
// テーブル名は設定で変更できるため TableName は定義せず、常に Table() で指定する。
type LedgerEntryModel struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;type:varchar(255);not null;unique"`
	AppliedAt time.Time `gorm:"column:applied_at;not null;autoCreateTime"`
}

// LedgerRepository は適用済みマイグレーションの台帳を管理する。
// 台帳は追記のみで、更新・削除の操作は提供しない。
type LedgerRepository struct {
	db    *gorm.DB
	table string
}

// NewLedgerRepository は新しいLedgerRepositoryを生成する。
func NewLedgerRepository(db *gorm.DB, table string) *LedgerRepository {
	return &LedgerRepository{db: db, table: table}
}

// ListApplied は適用済みファイル名を適用順に取得する。
func (r *LedgerRepository) ListApplied(ctx context.Context) ([]string, error) {
	var names []string
	err := conn(ctx, r.db).
		Table(r.table).
		Order("id ASC").
		Pluck("name", &names).Error
	if err != nil {
		if !conn(ctx, r.db).Migrator().HasTable(r.table) {
			return nil, fmt.Errorf("%w: %w: %s", domain.ErrStorage, domain.ErrLedgerMissing, r.table)
		}
		slog.ErrorContext(ctx, "failed to list applied migrations",
			"operation", "list_applied",
			"table", r.table,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return names, nil
}

// RecordApplied は適用済みファイルを1行追記する。既に記録済みの場合は ErrDuplicate を返す。
func (r *LedgerRepository) RecordApplied(ctx context.Context, name string) error {
	var count int64
	if err := conn(ctx, r.db).Table(r.table).Where("name = ?", name).Count(&count).Error; err != nil {
		slog.ErrorContext(ctx, "failed to check ledger entry",
			"operation", "record_applied",
			"name", name,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	if count > 0 {
		r.logDuplicate(ctx, name)
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, name)
	}

	model := &LedgerEntryModel{Name: name}
	if err := conn(ctx, r.db).Table(r.table).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			r.logDuplicate(ctx, name)
			return fmt.Errorf("%w: %s", domain.ErrDuplicate, name)
		}
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_applied",
			"name", name,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return nil
}

// 通常は起こり得ないため、並行実行の兆候として目立つように出力する
func (r *LedgerRepository) logDuplicate(ctx context.Context, name string) {
	slog.ErrorContext(ctx, "ledger already contains migration, concurrent run suspected",
		"operation", "record_applied",
		"table", r.table,
		"name", name,
	)
}

// IsDatabaseEmpty はデータベースにテーブルが1つも無いか確認する。
func (r *LedgerRepository) IsDatabaseEmpty(ctx context.Context) (bool, error) {
	tables, err := listTables(conn(ctx, r.db))
	if err != nil {
		slog.ErrorContext(ctx, "failed to list tables",
			"operation", "is_database_empty",
			"error", err,
		)
		return false, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return len(tables) == 0, nil
}

// EnsureTable は台帳テーブルが無ければ作成する。
func (r *LedgerRepository) EnsureTable(ctx context.Context) error {
	db := conn(ctx, r.db)
	if db.Migrator().HasTable(r.table) {
		return nil
	}
	if err := db.Table(r.table).Migrator().CreateTable(&LedgerEntryModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to create ledger table",
			"operation", "ensure_table",
			"table", r.table,
			"error", err,
		)
		return fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	slog.InfoContext(ctx, "ledger table created", "table", r.table)
	return nil
}

// ExecScript はマイグレーションファイルのSQLを実行する。
func (r *LedgerRepository) ExecScript(ctx context.Context, script string) error {
	return conn(ctx, r.db).Exec(script).Error
}

// Transaction は fn 内の ExecScript と RecordApplied を同一トランザクションで実行する。
func (r *LedgerRepository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}
