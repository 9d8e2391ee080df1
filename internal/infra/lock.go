package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sql-migration-tool/config"
	"sql-migration-tool/internal/domain"
	"sql-migration-tool/internal/usecase"
)

const lockFileName = ".migctl.lock"

// NewLocker はデータベースの種類に応じたLockerを返す。
// MySQLではアドバイザリロック、それ以外ではバックアップディレクトリのロックファイルを使う。
func NewLocker(db *gorm.DB, cfg *config.Config) usecase.Locker {
	if db.Dialector.Name() == "mysql" {
		return NewMySQLLocker(db, cfg.LockName, cfg.LockTimeout)
	}
	return NewFileLocker(filepath.Join(cfg.BackupDir, lockFileName), cfg.LockTimeout)
}

// MySQLLocker は GET_LOCK / RELEASE_LOCK によるアドバイザリロック。
// ロックはセッションに紐づくため、専用のコネクションを解放まで保持する。
type MySQLLocker struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

// NewMySQLLocker は新しいMySQLLockerを生成する。
func NewMySQLLocker(db *gorm.DB, name string, timeout time.Duration) *MySQLLocker {
	return &MySQLLocker{db: db, name: name, timeout: timeout}
}

// Lock はロックを取得する。timeout 内に取得できなければ ErrLocked を返す。
func (l *MySQLLocker) Lock(ctx context.Context) (func() error, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	var acquired sql.NullInt64
	seconds := int(math.Ceil(l.timeout.Seconds()))
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.name, seconds).Scan(&acquired); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: acquiring lock %q: %w", domain.ErrStorage, l.name, err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrLocked, l.name)
	}
	slog.DebugContext(ctx, "acquired advisory lock", "lock", l.name)

	return func() error {
		defer conn.Close()
		if _, err := conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", l.name); err != nil {
			return fmt.Errorf("releasing lock %q: %w", l.name, err)
		}
		return nil
	}, nil
}

// FileLocker はロックファイルの排他作成による排他制御。
// 同一ホスト上のプロセス間でのみ有効。
// ロックファイルには所有者のトークン、pid、ホスト名を書き込み、
// 同一ホストで所有プロセスが終了している場合は古いロックとして削除する。
type FileLocker struct {
	path     string
	timeout  time.Duration
	interval time.Duration
	host     string
	alive    func(pid int) bool
}

// NewFileLocker は新しいFileLockerを生成する。
func NewFileLocker(path string, timeout time.Duration) *FileLocker {
	host, _ := os.Hostname()
	return &FileLocker{
		path:     path,
		timeout:  timeout,
		interval: 200 * time.Millisecond,
		host:     host,
		alive:    processAlive,
	}
}

// Lock はロックファイルを作成する。既に存在する場合は timeout まで再試行する。
func (l *FileLocker) Lock(ctx context.Context) (func() error, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(l.timeout)

	for {
		err := l.tryCreate(token)
		if err == nil {
			slog.DebugContext(ctx, "acquired lock file", "path", l.path, "owner", token)
			return func() error { return l.release(token) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: creating lock file: %w", domain.ErrStorage, err)
		}
		if l.removeStale(ctx) {
			continue
		}
		if !time.Now().Before(deadline) {
			holder, _ := os.ReadFile(l.path)
			return nil, fmt.Errorf("%w: %s is held by %q; remove the file if no migctl process is running",
				domain.ErrLocked, l.path, strings.TrimSpace(string(holder)))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

func (l *FileLocker) tryCreate(token string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s pid=%d host=%s\n", token, os.Getpid(), l.host)
	return err
}

// removeStale は所有プロセスが同一ホスト上に存在しないロックファイルを削除する。
// 別ホストのロックは pid で判断できないため削除しない。
func (l *FileLocker) removeStale(ctx context.Context) bool {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	owner := parseLockOwner(string(content))
	if l.host == "" || owner.host != l.host || owner.pid <= 0 || l.alive(owner.pid) {
		return false
	}
	if err := os.Remove(l.path); err != nil {
		return false
	}
	slog.WarnContext(ctx, "removed stale lock file",
		"path", l.path,
		"owner", owner.token,
		"pid", owner.pid,
	)
	return true
}

// 他のプロセスが作り直したロックファイルは削除しない
func (l *FileLocker) release(token string) error {
	content, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading lock file: %w", err)
	}
	if parseLockOwner(string(content)).token != token {
		return fmt.Errorf("lock file %s is owned by another process", l.path)
	}
	return os.Remove(l.path)
}

type lockOwner struct {
	token string
	pid   int
	host  string
}

// parseLockOwner は "token pid=N host=H" 形式のロックファイルの内容を解析する。
func parseLockOwner(content string) lockOwner {
	var owner lockOwner
	for i, field := range strings.Fields(content) {
		if i == 0 {
			owner.token = field
			continue
		}
		if v, ok := strings.CutPrefix(field, "pid="); ok {
			owner.pid, _ = strconv.Atoi(v)
		} else if v, ok := strings.CutPrefix(field, "host="); ok {
			owner.host = v
		}
	}
	return owner
}
