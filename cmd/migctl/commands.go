package main

import (
	"context"
	"fmt"
	"io"

	"sql-migration-tool/internal/domain"
	"sql-migration-tool/internal/middleware"
	"sql-migration-tool/internal/usecase"
)

type stateReporter interface {
	State(ctx context.Context) (*domain.State, error)
}

type migrator interface {
	Migrate(ctx context.Context) (*domain.MigrationResult, error)
	Backup(ctx context.Context) (*domain.BackupArtifact, error)
	Restore(ctx context.Context, artifact domain.BackupArtifact) (*domain.BackupArtifact, error)
}

type artifactLister interface {
	ListArtifacts(ctx context.Context) ([]domain.BackupArtifact, error)
}

// commands はCLIの各操作を実行し、結果をオペレーター向けに表示する。
type commands struct {
	state      stateReporter
	migrations migrator
	backups    artifactLister
	target     string
	in         io.Reader
	out        io.Writer
}

func (c *commands) run(ctx context.Context, op operation) error {
	switch op {
	case opState:
		return c.showState(ctx)
	case opMigrate:
		return c.migrate(ctx)
	case opBackup:
		return c.backup(ctx)
	case opRestore:
		return c.restore(ctx)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func (c *commands) showState(ctx context.Context) error {
	state, err := c.state.State(ctx)
	if err != nil {
		return err
	}
	printList(c.out, fmt.Sprintf("Old files in folder %s:", state.SourceDir), state.Applied, "Old files not found")
	printList(c.out, fmt.Sprintf("New files in folder %s:", state.SourceDir), state.Pending, "New files not found")
	return nil
}

func (c *commands) migrate(ctx context.Context) error {
	result, err := c.migrations.Migrate(ctx)
	if result != nil {
		if result.UpToDate {
			fmt.Fprintln(c.out, "Your database in latest state")
			middleware.WriteAuditLog(ctx, "MIGRATE", c.target, middleware.ResultSkipped)
			return nil
		}
		printBackup(c.out, result.Backup)
		fmt.Fprintln(c.out, "Start database migration")
		for _, name := range result.Applied {
			fmt.Fprintln(c.out, "Execute file", name)
		}
	}
	if err != nil {
		middleware.WriteAuditLog(ctx, "MIGRATE", c.target, middleware.ResultFailed)
		return err
	}

	fmt.Fprintln(c.out, "Database migration complete")
	middleware.WriteAuditLog(ctx, "MIGRATE", c.target, middleware.ResultSuccess)
	return nil
}

func (c *commands) backup(ctx context.Context) error {
	artifact, err := c.migrations.Backup(ctx)
	if err != nil {
		middleware.WriteAuditLog(ctx, "BACKUP", c.target, middleware.ResultFailed)
		return err
	}
	if artifact == nil {
		fmt.Fprintln(c.out, "No tables found in database, nothing to do")
		middleware.WriteAuditLog(ctx, "BACKUP", c.target, middleware.ResultSkipped)
		return nil
	}
	printBackup(c.out, artifact)
	middleware.WriteAuditLog(ctx, "BACKUP", artifact.Name, middleware.ResultSuccess)
	return nil
}

func (c *commands) restore(ctx context.Context) error {
	artifacts, err := c.backups.ListArtifacts(ctx)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return domain.ErrNotFound
	}

	selected, err := usecase.PromptArtifact(c.in, c.out, artifacts)
	if err != nil {
		return err
	}

	before, err := c.migrations.Restore(ctx, selected)
	printBackup(c.out, before)
	if err != nil {
		middleware.WriteAuditLog(ctx, "RESTORE", selected.Name, middleware.ResultFailed)
		return err
	}

	fmt.Fprintln(c.out, "Restore database from backup", selected.Name)
	middleware.WriteAuditLog(ctx, "RESTORE", selected.Name, middleware.ResultSuccess)
	return nil
}

func printList(w io.Writer, title string, names []string, empty string) {
	fmt.Fprintln(w, title)
	if len(names) == 0 {
		fmt.Fprintln(w, "    "+empty)
		return
	}
	for i, name := range names {
		fmt.Fprintf(w, "    %d. %s\n", i+1, name)
	}
}

func printBackup(w io.Writer, artifact *domain.BackupArtifact) {
	if artifact == nil {
		return
	}
	fmt.Fprintln(w, "Create backup of current state:", artifact.Name)
}
