// Package middleware は監査ログなどの横断的な処理を提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
	ResultSkipped = "SKIPPED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は状態を変更する操作（migrate/backup/restore）の監査ログを出力する。
// target はデータベース名やバックアップファイル名。
func WriteAuditLog(ctx context.Context, operation string, target string, result string) {
	entry := AuditLog{
		Operation: operation,
		Target:    target,
		Result:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	level := slog.LevelInfo
	if result == ResultFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "database operation completed",
		"operation", entry.Operation,
		"target", entry.Target,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}
