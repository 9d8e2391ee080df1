package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sql-migration-tool/internal/domain"
)

// FileCatalog はマイグレーションファイルとバックアップファイルを一覧する。
type FileCatalog struct{}

// NewFileCatalog は新しいFileCatalogを生成する。
func NewFileCatalog() *FileCatalog {
	return &FileCatalog{}
}

// ListSourceFiles はディレクトリ直下の .sql ファイルをファイル名の昇順で返す。
// サブディレクトリは対象外。
func (c *FileCatalog) ListSourceFiles(dir string) ([]domain.MigrationFile, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}

	var files []domain.MigrationFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, domain.MigrationFile{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
		})
	}

	domain.SortFiles(files)
	return files, nil
}

// ListBackupFiles はバックアップファイルを作成日時の昇順で返す。
// 日時はファイル名から取得し、解析できない場合は更新日時を使う。同時刻はファイル名順。
// この順序が一覧表示と番号による選択の両方で使われる。
func (c *FileCatalog) ListBackupFiles(dir string) ([]domain.BackupArtifact, error) {
	entries, err := readDir(dir)
	if err != nil {
		return nil, err
	}

	var artifacts []domain.BackupArtifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !domain.IsBackupFile(entry.Name()) {
			continue
		}

		createdAt, sealed, ok := domain.ParseBackupTime(entry.Name())
		if !ok {
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", domain.ErrStorage, entry.Name(), err)
			}
			createdAt = info.ModTime()
			sealed = strings.HasSuffix(entry.Name(), domain.SealedBackupExt)
		}

		artifacts = append(artifacts, domain.BackupArtifact{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: createdAt,
			Sealed:    sealed,
		})
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
		}
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: directory %q does not exist", domain.ErrConfiguration, dir)
		}
		return nil, fmt.Errorf("%w: failed to read directory %q: %v", domain.ErrConfiguration, dir, err)
	}
	return entries, nil
}
