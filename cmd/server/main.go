// Package main は読み取り専用ステータスサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"sql-migration-tool/config"
	"sql-migration-tool/internal/handler"
	"sql-migration-tool/internal/infra"
	"sql-migration-tool/internal/repository"
	"sql-migration-tool/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, os.Stdout)

	// DB初期化
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("failed to get database handle", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	// DI
	ledger := repository.NewLedgerRepository(db, cfg.LedgerTable)
	schema := repository.NewSchemaRepository(db)
	catalog := repository.NewFileCatalog()
	stateService := usecase.NewStateService(ledger, catalog, cfg.SQLDir)
	backupService := usecase.NewBackupService(schema, catalog, infra.NewDumper(cfg, infra.ExecRunner{}), usecase.BackupOptions{
		Dir:           cfg.BackupDir,
		Database:      cfg.Database(),
		WarnThreshold: cfg.BackupWarnThreshold,
	})
	if err := usecase.RegisterStateMetrics(prometheus.DefaultRegisterer, stateService, backupService); err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	h := handler.NewStateHandler(stateService, backupService, sqlDB)
	router := handler.NewRouter(h, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting status server", "port", cfg.Port, "sql_dir", cfg.SQLDir, "backup_dir", cfg.BackupDir)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
