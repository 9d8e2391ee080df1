// Package infra は外部サービスとの接続を提供する。
package infra

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"sql-migration-tool/config"
)

// NewDB はgormによるデータベース接続を初期化する。
// DSNが sqlite:// で始まる場合はSQLite、それ以外はMySQLとして接続する。
func NewDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialectorFor(cfg), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.OtelEnabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("registering tracing plugin: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 接続プール設定（ロック用に1本、適用用に1本あれば足りる）
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

func dialectorFor(cfg *config.Config) gorm.Dialector {
	if path, ok := cfg.SQLitePath(); ok {
		return sqlite.Open(path)
	}
	return mysql.Open(cfg.DSN())
}
