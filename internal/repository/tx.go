// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
)

type txKey struct{}

// withTx はトランザクションをコンテキストに格納する。
func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn はコンテキストにトランザクションがあればそれを、なければdbを返す。
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// listTables はユーザーテーブルの一覧を返す。SQLiteの内部テーブル（sqlite_sequence等）は除く。
func listTables(db *gorm.DB) ([]string, error) {
	tables, err := db.Migrator().GetTables()
	if err != nil {
		return nil, err
	}
	result := tables[:0]
	for _, t := range tables {
		if strings.HasPrefix(t, "sqlite_") {
			continue
		}
		result = append(result, t)
	}
	return result, nil
}
