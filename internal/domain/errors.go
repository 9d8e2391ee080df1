package domain

import "errors"

var (
	// ErrConfiguration はパスや接続情報など設定が不正な場合のエラー。
	ErrConfiguration = errors.New("configuration error")

	// ErrStorage は台帳テーブルやデータベースにアクセスできない場合のエラー。
	ErrStorage = errors.New("storage error")

	// ErrLedgerMissing は台帳テーブルが存在しない場合のエラー。ErrStorage と併せてラップされる。
	ErrLedgerMissing = errors.New("ledger table does not exist")

	// ErrDuplicate は同じファイル名が台帳に二重登録されようとした場合のエラー。
	// 通常の運用では発生せず、並行実行による競合を示す。
	ErrDuplicate = errors.New("migration already recorded")

	// ErrExecution はマイグレーションファイルのSQL実行に失敗した場合のエラー。
	ErrExecution = errors.New("migration execution failed")

	// ErrNotFound は復元可能なバックアップが存在しない場合のエラー。
	ErrNotFound = errors.New("backup files not found")

	// ErrInvalidSelection はバックアップ選択の入力が一覧の番号と一致しない場合のエラー。
	ErrInvalidSelection = errors.New("invalid backup selection")

	// ErrInvalidArtifact はバックアップファイルの形式が不正な場合のエラー。
	ErrInvalidArtifact = errors.New("invalid backup file")

	// ErrCommandTimeout は外部コマンドがタイムアウトした場合のエラー。
	ErrCommandTimeout = errors.New("external command timed out")

	// ErrLocked は別のプロセスがマイグレーションロックを保持している場合のエラー。
	ErrLocked = errors.New("migration lock is held by another process")
)
