package usecase

import (
	"context"

	"sql-migration-tool/internal/domain"
)

// StateService は適用済み・未適用ファイルの状況を提供する。データベースへの書き込みは行わない。
type StateService struct {
	ledger    LedgerStore
	catalog   Catalog
	sourceDir string
}

// NewStateService は新しいStateServiceを生成する。
func NewStateService(ledger LedgerStore, catalog Catalog, sourceDir string) *StateService {
	return &StateService{
		ledger:    ledger,
		catalog:   catalog,
		sourceDir: sourceDir,
	}
}

// State は台帳の記録順の適用済みファイルと、名前順の未適用ファイルを返す。
func (s *StateService) State(ctx context.Context) (*domain.State, error) {
	applied, pending, err := loadState(ctx, s.ledger, s.catalog, s.sourceDir)
	if err != nil {
		return nil, err
	}
	if applied == nil {
		applied = []string{}
	}
	return &domain.State{
		SourceDir: s.sourceDir,
		Applied:   applied,
		Pending:   domain.FileNames(pending),
	}, nil
}

// loadState は台帳とソースディレクトリから適用済みファイルと未適用ファイルを求める。
// テーブルが1つも無いデータベースでは台帳テーブルも無いため、適用済みは空として扱う。
func loadState(ctx context.Context, ledger LedgerStore, catalog Catalog, dir string) ([]string, []domain.MigrationFile, error) {
	files, err := catalog.ListSourceFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	empty, err := ledger.IsDatabaseEmpty(ctx)
	if err != nil {
		return nil, nil, err
	}

	var applied []string
	if !empty {
		if applied, err = ledger.ListApplied(ctx); err != nil {
			return nil, nil, err
		}
	}
	return applied, domain.ComputeNewFiles(files, applied), nil
}
