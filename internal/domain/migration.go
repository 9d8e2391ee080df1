// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "sort"

// MigrationFile はソースディレクトリ上のマイグレーションファイルを表す。
// ファイル名が識別子であり、同時にソートキーでもある。
type MigrationFile struct {
	Name string // ファイル名（例: 001_init.sql）
	Path string // 絶対パス
}

// State は適用済み・未適用ファイルの一覧を表す。
type State struct {
	SourceDir string
	Applied   []string // 台帳の記録順
	Pending   []string // ファイル名の昇順
}

// MigrationResult はマイグレーション実行結果を表す。
type MigrationResult struct {
	UpToDate bool
	Backup   *BackupArtifact // 事前バックアップ（データベースが空の場合はnil）
	Applied  []string
}

// SortFiles はファイル名の辞書順（昇順）で並べ替える。実行順序はこの順序で決まる。
func SortFiles(files []MigrationFile) {
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
}

// ComputeNewFiles は全ファイルから適用済みファイルを除いた集合を名前の昇順で返す。
// 入力の並び順には依存しない。
func ComputeNewFiles(all []MigrationFile, applied []string) []MigrationFile {
	seen := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		seen[name] = struct{}{}
	}

	pending := make([]MigrationFile, 0, len(all))
	for _, f := range all {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		pending = append(pending, f)
	}
	SortFiles(pending)
	return pending
}

// FileNames はファイル名の一覧を返す。
func FileNames(files []MigrationFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return names
}
