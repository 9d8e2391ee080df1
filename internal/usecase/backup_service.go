// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sql-migration-tool/internal/domain"
)

// SchemaStore はデータベース全体のテーブル操作のインターフェース。
type SchemaStore interface {
	ListTables(ctx context.Context) ([]string, error)
	DropAllTables(ctx context.Context) error
}

// Catalog はマイグレーションファイルとバックアップファイルの一覧を提供する。
type Catalog interface {
	ListSourceFiles(dir string) ([]domain.MigrationFile, error)
	ListBackupFiles(dir string) ([]domain.BackupArtifact, error)
}

// Dumper はデータベースのダンプとロードを行う。
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
	Load(ctx context.Context, r io.Reader) error
}

// BackupOptions はBackupServiceの設定。
type BackupOptions struct {
	Dir           string
	Database      string
	WarnThreshold int
	// Sealer が nil の場合は平文のダンプを書き出す
	Sealer *Sealer
	// Out はオペレータ向けの警告の出力先。nil の場合は出力しない
	Out io.Writer
}

// BackupService はバックアップの作成と復元を提供する。
// 外部コマンドの起動は Dumper に閉じ込められ、このサービスからのみ行われる。
type BackupService struct {
	schema  SchemaStore
	catalog Catalog
	dumper  Dumper
	opts    BackupOptions
	now     func() time.Time
}

// NewBackupService は新しいBackupServiceを生成する。
func NewBackupService(schema SchemaStore, catalog Catalog, dumper Dumper, opts BackupOptions) *BackupService {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &BackupService{
		schema:  schema,
		catalog: catalog,
		dumper:  dumper,
		opts:    opts,
		now:     time.Now,
	}
}

// IsDatabaseEmpty はデータベースにテーブルが1つも無いか確認する。
func (s *BackupService) IsDatabaseEmpty(ctx context.Context) (bool, error) {
	tables, err := s.schema.ListTables(ctx)
	if err != nil {
		return false, err
	}
	return len(tables) == 0, nil
}

// Backup は現在のデータベース全体をバックアップディレクトリに書き出す。
// テーブルが1つも無い場合は何もせず nil を返す。
func (s *BackupService) Backup(ctx context.Context) (*domain.BackupArtifact, error) {
	empty, err := s.IsDatabaseEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		slog.InfoContext(ctx, "no tables found in database, skipping backup",
			"database", s.opts.Database,
		)
		return nil, nil
	}

	existing, err := s.catalog.ListBackupFiles(s.opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(existing) > s.opts.WarnThreshold {
		slog.WarnContext(ctx, "too many backup files",
			"dir", s.opts.Dir,
			"count", len(existing),
			"threshold", s.opts.WarnThreshold,
		)
		fmt.Fprintf(s.opts.Out, "Warning! Too many backup files (%d) in %s\n", len(existing), s.opts.Dir)
	}

	createdAt := s.now().Truncate(time.Second)
	sealed := s.opts.Sealer != nil
	name := domain.BackupName(s.opts.Database, createdAt, sealed)
	path := filepath.Join(s.opts.Dir, name)

	if err := s.writeBackup(ctx, path, sealed); err != nil {
		slog.ErrorContext(ctx, "failed to create backup",
			"operation", "backup",
			"path", path,
			"error", err,
		)
		return nil, err
	}

	BackupsCreated.Inc()
	slog.InfoContext(ctx, "backup created",
		"path", path,
		"sealed", sealed,
	)
	return &domain.BackupArtifact{
		Name:      name,
		Path:      path,
		CreatedAt: createdAt,
		Sealed:    sealed,
	}, nil
}

// writeBackup はダンプをファイルに書き出す。失敗した場合は書きかけのファイルを削除する。
func (s *BackupService) writeBackup(ctx context.Context, path string, sealed bool) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: creating backup file: %w", domain.ErrStorage, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing backup file: %w", domain.ErrStorage, cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	if !sealed {
		return s.dumper.Dump(ctx, f)
	}

	// 封緘はダンプ全体を対象にするため、一度メモリに読み込む
	var buf bytes.Buffer
	if err := s.dumper.Dump(ctx, &buf); err != nil {
		return err
	}
	data, err := s.opts.Sealer.Seal(ctx, buf.Bytes())
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: writing backup file: %w", domain.ErrStorage, err)
	}
	return nil
}

// ListArtifacts はバックアップファイルを表示・選択の順序で返す。
func (s *BackupService) ListArtifacts(ctx context.Context) ([]domain.BackupArtifact, error) {
	return s.catalog.ListBackupFiles(s.opts.Dir)
}

// Restore は全テーブルを削除し、バックアップをロードする。
// 復元前のバックアップは呼び出し側（MigrationService）の責務。
func (s *BackupService) Restore(ctx context.Context, artifact domain.BackupArtifact) error {
	// 読み込みや復号に失敗した場合にテーブルを消さないよう、先にダンプを用意する
	dump, closeDump, err := s.openArtifact(ctx, artifact)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open backup",
			"operation", "restore",
			"path", artifact.Path,
			"error", err,
		)
		return err
	}
	defer closeDump()

	if err := s.schema.DropAllTables(ctx); err != nil {
		return err
	}
	if err := s.dumper.Load(ctx, dump); err != nil {
		slog.ErrorContext(ctx, "failed to load backup",
			"operation", "restore",
			"path", artifact.Path,
			"error", err,
		)
		return err
	}

	RestoresCompleted.Inc()
	slog.InfoContext(ctx, "database restored", "path", artifact.Path)
	return nil
}

func (s *BackupService) openArtifact(ctx context.Context, artifact domain.BackupArtifact) (io.Reader, func() error, error) {
	if !artifact.Sealed {
		f, err := os.Open(artifact.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
		return f, f.Close, nil
	}

	if s.opts.Sealer == nil {
		return nil, nil, fmt.Errorf("%w: %s is sealed but KMS_KEY_NAME is not set", domain.ErrConfiguration, artifact.Name)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	plaintext, err := s.opts.Sealer.Open(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(plaintext), func() error { return nil }, nil
}

// SelectArtifact は1始まりの番号でバックアップを選ぶ。
// 一覧が空なら ErrNotFound、番号が不正なら ErrInvalidSelection を返す。
func SelectArtifact(artifacts []domain.BackupArtifact, input string) (domain.BackupArtifact, error) {
	if len(artifacts) == 0 {
		return domain.BackupArtifact{}, domain.ErrNotFound
	}
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < 1 || n > len(artifacts) {
		return domain.BackupArtifact{}, fmt.Errorf("%w: %q (expected 1-%d)", domain.ErrInvalidSelection, strings.TrimSpace(input), len(artifacts))
	}
	return artifacts[n-1], nil
}

// PromptArtifact は一覧を表示し、有効な番号が入力されるまで繰り返し尋ねる。
// 入力が終端に達した場合はエラーを返す。
func PromptArtifact(in io.Reader, out io.Writer, artifacts []domain.BackupArtifact) (domain.BackupArtifact, error) {
	if len(artifacts) == 0 {
		return domain.BackupArtifact{}, domain.ErrNotFound
	}

	fmt.Fprintln(out, "Choose backup file to restore:")
	for i, a := range artifacts {
		fmt.Fprintf(out, "%d. %s\n", i+1, a.Name)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Enter number of backup file: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return domain.BackupArtifact{}, fmt.Errorf("reading selection: %w", err)
			}
			return domain.BackupArtifact{}, fmt.Errorf("%w: no input", domain.ErrInvalidSelection)
		}

		artifact, err := SelectArtifact(artifacts, scanner.Text())
		if errors.Is(err, domain.ErrInvalidSelection) {
			fmt.Fprintln(out, "Invalid number, try again")
			continue
		}
		return artifact, err
	}
}
