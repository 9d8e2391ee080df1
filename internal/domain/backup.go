package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// BackupTimeLayout はバックアップファイル名に埋め込む日時の形式（DD.MM.YYYY-HH.MM.SS）。
	BackupTimeLayout = "02.01.2006-15.04.05"

	// BackupExt は平文ダンプの拡張子。
	BackupExt = ".sql"
	// SealedBackupExt はKMSで封緘したダンプの拡張子。
	SealedBackupExt = ".sql.enc"
)

// BackupArtifact はデータベース全体のバックアップファイルを表す。
type BackupArtifact struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Sealed    bool
}

// BackupName はデータベース名と作成日時からバックアップファイル名を生成する。
func BackupName(database string, at time.Time, sealed bool) string {
	ext := BackupExt
	if sealed {
		ext = SealedBackupExt
	}
	return fmt.Sprintf("%s-%s%s", database, at.Format(BackupTimeLayout), ext)
}

// IsBackupFile はファイル名がバックアップの拡張子を持つか判定する。
func IsBackupFile(name string) bool {
	return strings.HasSuffix(name, BackupExt) || strings.HasSuffix(name, SealedBackupExt)
}

// ParseBackupTime はファイル名末尾の日時を解析する。
// 形式に合わない場合は ok=false を返す。
func ParseBackupTime(name string) (t time.Time, sealed bool, ok bool) {
	base := name
	switch {
	case strings.HasSuffix(base, SealedBackupExt):
		base = strings.TrimSuffix(base, SealedBackupExt)
		sealed = true
	case strings.HasSuffix(base, BackupExt):
		base = strings.TrimSuffix(base, BackupExt)
	default:
		return time.Time{}, false, false
	}

	if len(base) <= len(BackupTimeLayout)+1 {
		return time.Time{}, sealed, false
	}
	stamp := base[len(base)-len(BackupTimeLayout):]
	if base[len(base)-len(BackupTimeLayout)-1] != '-' {
		return time.Time{}, sealed, false
	}
	t, err := time.ParseInLocation(BackupTimeLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, sealed, false
	}
	return t, sealed, true
}
