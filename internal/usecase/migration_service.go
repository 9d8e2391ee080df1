package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"sql-migration-tool/internal/domain"
)

var tracer = otel.Tracer("sql-migration-tool/internal/usecase")

// LedgerStore は適用済みマイグレーション台帳のインターフェース。
type LedgerStore interface {
	ListApplied(ctx context.Context) ([]string, error)
	RecordApplied(ctx context.Context, name string) error
	IsDatabaseEmpty(ctx context.Context) (bool, error)
	EnsureTable(ctx context.Context) error
	ExecScript(ctx context.Context, script string) error
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker はマイグレーションの排他制御のインターフェース。
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

// MigrationService はマイグレーションの適用と復元のワークフローを提供する。
type MigrationService struct {
	ledger    LedgerStore
	catalog   Catalog
	backups   *BackupService
	locker    Locker
	sourceDir string
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(
	ledger LedgerStore,
	catalog Catalog,
	backups *BackupService,
	locker Locker,
	sourceDir string,
) *MigrationService {
	return &MigrationService{
		ledger:    ledger,
		catalog:   catalog,
		backups:   backups,
		locker:    locker,
		sourceDir: sourceDir,
	}
}

// Migrate は未適用ファイルを名前順に適用する。
// データベースにテーブルがある場合は、適用前にバックアップを作成する。バックアップに失敗した場合は何も適用しない。
// 失敗したファイルで停止し、そのファイルは台帳に記録しない。
func (s *MigrationService) Migrate(ctx context.Context) (result *domain.MigrationResult, err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.Migrate")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, unlock)

	_, pending, err := loadState(ctx, s.ledger, s.catalog, s.sourceDir)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "database is up to date")
		return &domain.MigrationResult{UpToDate: true}, nil
	}

	result = &domain.MigrationResult{Applied: []string{}}
	if result.Backup, err = s.backups.Backup(ctx); err != nil {
		return nil, fmt.Errorf("backup before migration: %w", err)
	}

	if err := s.ledger.EnsureTable(ctx); err != nil {
		return result, err
	}

	slog.InfoContext(ctx, "starting migration",
		"pending", len(pending),
		"source_dir", s.sourceDir,
	)
	for _, file := range pending {
		if err := s.apply(ctx, file); err != nil {
			MigrationsFailed.Inc()
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "migrate",
				"file", file.Name,
				"applied", len(result.Applied),
				"error", err,
			)
			return result, err
		}
		MigrationsApplied.Inc()
		result.Applied = append(result.Applied, file.Name)
		slog.InfoContext(ctx, "migration applied", "file", file.Name)
	}

	span.SetAttributes(attribute.Int("migctl.applied", len(result.Applied)))
	return result, nil
}

// apply は1ファイルのSQL実行と台帳への記録を同一トランザクションで行う。
// MySQLではDDLが暗黙にコミットされるため、記録前に中断した場合は次回再実行される。
func (s *MigrationService) apply(ctx context.Context, file domain.MigrationFile) error {
	ctx, span := tracer.Start(ctx, "MigrationService.apply")
	defer span.End()
	span.SetAttributes(attribute.String("migctl.file", file.Name))

	script, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrExecution, file.Name, err)
	}

	err = s.ledger.Transaction(ctx, func(ctx context.Context) error {
		if strings.TrimSpace(string(script)) != "" {
			if err := s.ledger.ExecScript(ctx, string(script)); err != nil {
				return fmt.Errorf("%w: %s: %w", domain.ErrExecution, file.Name, err)
			}
		}
		return s.ledger.RecordApplied(ctx, file.Name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Restore はデータベースを指定したバックアップの状態に戻す。
// テーブルがある場合は、復元前に現在の状態をバックアップする。このバックアップに失敗した場合は復元しない。
func (s *MigrationService) Restore(ctx context.Context, artifact domain.BackupArtifact) (before *domain.BackupArtifact, err error) {
	ctx, span := tracer.Start(ctx, "MigrationService.Restore")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("migctl.backup", artifact.Name))

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, unlock)

	if before, err = s.backups.Backup(ctx); err != nil {
		return nil, fmt.Errorf("backup before restore: %w", err)
	}

	if err := s.backups.Restore(ctx, artifact); err != nil {
		return before, err
	}
	return before, nil
}

// Backup はロックを取得した上でバックアップを作成する。
func (s *MigrationService) Backup(ctx context.Context) (*domain.BackupArtifact, error) {
	ctx, span := tracer.Start(ctx, "MigrationService.Backup")
	defer span.End()

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, unlock)

	return s.backups.Backup(ctx)
}

func (s *MigrationService) lock(ctx context.Context) (func() error, error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrLocked) {
			LockConflicts.Inc()
		}
		slog.ErrorContext(ctx, "failed to acquire migration lock",
			"operation", "lock",
			"error", err,
		)
		return nil, err
	}
	return unlock, nil
}

func (s *MigrationService) release(ctx context.Context, unlock func() error) {
	if err := unlock(); err != nil {
		slog.WarnContext(ctx, "failed to release migration lock", "error", err)
	}
}
