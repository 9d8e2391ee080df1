package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"sql-migration-tool/config"
	"sql-migration-tool/internal/domain"
	"sql-migration-tool/internal/infra"
	"sql-migration-tool/internal/repository"
	"sql-migration-tool/internal/usecase"
)

const pushTimeout = 10 * time.Second

// runOperation は設定を読み込み、依存関係を組み立てて操作を実行する。
func runOperation(ctx context.Context, op operation, in io.Reader, out io.Writer) error {
	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 標準出力はオペレーター向けの表示に使う
	infra.SetupLogger(cfg, os.Stderr)

	shutdown, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	cmds, closeFn, err := buildCommands(ctx, cfg, in, out)
	if err != nil {
		return err
	}
	defer closeFn()

	err = cmds.run(ctx, op)
	if cfg.PushgatewayURL != "" {
		pushMetrics(ctx, cfg.PushgatewayURL)
	}
	return err
}

// pushMetrics は実行結果のカウンタを送る。送信に失敗しても操作の結果は変えない。
func pushMetrics(ctx context.Context, gatewayURL string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := usecase.PushMetrics(ctx, gatewayURL); err != nil {
		slog.WarnContext(ctx, "failed to push metrics", "gateway", gatewayURL, "error", err)
	}
}

// buildCommands はDB接続と各サービスを組み立てる。
func buildCommands(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (*commands, func(), error) {
	db, err := infra.NewDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connecting to database: %w", domain.ErrStorage, err)
	}

	var closers []func() error
	if sqlDB, err := db.DB(); err == nil {
		closers = append(closers, sqlDB.Close)
	}

	opts := usecase.BackupOptions{
		Dir:           cfg.BackupDir,
		Database:      cfg.Database(),
		WarnThreshold: cfg.BackupWarnThreshold,
		Out:           out,
	}
	if cfg.KMSKeyName != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
		}
		closers = append(closers, kmsClient.Close)
		opts.Sealer = usecase.NewSealer(kmsClient)
	}

	ledger := repository.NewLedgerRepository(db, cfg.LedgerTable)
	schema := repository.NewSchemaRepository(db)
	catalog := repository.NewFileCatalog()
	backups := usecase.NewBackupService(schema, catalog, infra.NewDumper(cfg, infra.ExecRunner{}), opts)

	cmds := &commands{
		state:      usecase.NewStateService(ledger, catalog, cfg.SQLDir),
		migrations: usecase.NewMigrationService(ledger, catalog, backups, infra.NewLocker(db, cfg), cfg.SQLDir),
		backups:    backups,
		target:     cfg.Database(),
		in:         in,
		out:        out,
	}
	return cmds, func() { closeAll(closers) }, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}
