package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sql-migration-tool/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_NAME", "test")
	t.Setenv("LEDGER_TABLE", "")
	t.Setenv("COMMAND_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LedgerTable != "current_state_database" {
		t.Errorf("unexpected ledger table: %s", cfg.LedgerTable)
	}
	if cfg.CommandTimeout != 10*time.Minute {
		t.Errorf("unexpected command timeout: %v", cfg.CommandTimeout)
	}
	if cfg.BackupWarnThreshold != 10 {
		t.Errorf("unexpected warn threshold: %d", cfg.BackupWarnThreshold)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT", "soon")

	_, err := Load()
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	sqlDir := filepath.Join(root, "sql")
	if err := os.Mkdir(sqlDir, 0755); err != nil {
		t.Fatalf("failed to create sql dir: %v", err)
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "正常系",
			cfg:  Config{DBName: "test", LedgerTable: "ledger", SQLDir: sqlDir, BackupDir: filepath.Join(root, "backup"), CommandTimeout: time.Minute},
		},
		{
			name:    "DB名が無い",
			cfg:     Config{LedgerTable: "ledger", SQLDir: sqlDir, BackupDir: root, CommandTimeout: time.Minute},
			wantErr: true,
		},
		{
			name:    "SQLディレクトリが存在しない",
			cfg:     Config{DBName: "test", LedgerTable: "ledger", SQLDir: filepath.Join(root, "missing"), BackupDir: root, CommandTimeout: time.Minute},
			wantErr: true,
		},
		{
			name:    "タイムアウトが0",
			cfg:     Config{DBName: "test", LedgerTable: "ledger", SQLDir: sqlDir, BackupDir: root, CommandTimeout: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Errorf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if !filepath.IsAbs(cfg.SQLDir) || !filepath.IsAbs(cfg.BackupDir) {
				t.Errorf("expected absolute paths, got %s and %s", cfg.SQLDir, cfg.BackupDir)
			}
			if _, err := os.Stat(cfg.BackupDir); err != nil {
				t.Errorf("expected backup dir to be created: %v", err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBHost: "db.local", DBPort: "3307", DBName: "app", DBUser: "migrator", DBPassword: "s3cret"}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "migrator:s3cret@tcp(db.local:3307)/app?") {
		t.Errorf("unexpected DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "multiStatements=true") {
		t.Errorf("expected multiStatements in DSN: %s", dsn)
	}

	cfg.DatabaseURL = "sqlite://./local.db"
	if cfg.DSN() != "sqlite://./local.db" {
		t.Errorf("expected DATABASE_URL to take precedence, got %s", cfg.DSN())
	}
}

func TestSQLitePath(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite://./local.db"}
	path, ok := cfg.SQLitePath()
	if !ok || path != "./local.db" {
		t.Errorf("got (%q, %v), want (./local.db, true)", path, ok)
	}

	cfg = &Config{DBName: "app"}
	if _, ok := cfg.SQLitePath(); ok {
		t.Error("expected MySQL configuration not to be treated as SQLite")
	}
}

func TestValidate_MySQLDatabaseURL(t *testing.T) {
	sqlDir := t.TempDir()
	cfg := &Config{
		DBHost:         "localhost",
		DBPort:         "3306",
		DBUser:         "root",
		DatabaseURL:    "app:secret@tcp(prod-db:3307)/shop?timeout=5s",
		LedgerTable:    "ledger",
		SQLDir:         sqlDir,
		BackupDir:      filepath.Join(sqlDir, "backup"),
		CommandTimeout: time.Minute,
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	// ダンプ・ロードは DB_* を使うため、接続先と一致していなければならない
	if cfg.DBHost != "prod-db" || cfg.DBPort != "3307" {
		t.Errorf("unexpected address %s:%s", cfg.DBHost, cfg.DBPort)
	}
	if cfg.DBUser != "app" || cfg.DBPassword != "secret" {
		t.Errorf("unexpected credentials %s/%s", cfg.DBUser, cfg.DBPassword)
	}
	if cfg.DBName != "shop" || cfg.Database() != "shop" {
		t.Errorf("unexpected database %q", cfg.DBName)
	}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "app:secret@tcp(prod-db:3307)/shop?") {
		t.Errorf("unexpected DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "multiStatements=true") {
		t.Errorf("expected multiStatements in DSN: %s", dsn)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Errorf("expected parameters from DATABASE_URL to be kept: %s", dsn)
	}
}

func TestValidate_InvalidDatabaseURL(t *testing.T) {
	sqlDir := t.TempDir()

	tests := []struct {
		name string
		url  string
	}{
		{name: "DB名が無い", url: "app:secret@tcp(prod-db:3306)/"},
		{name: "unixソケット", url: "app:secret@unix(/tmp/mysql.sock)/shop"},
		{name: "解析できない", url: "postgres://app@prod-db/shop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				DatabaseURL:    tt.url,
				LedgerTable:    "ledger",
				SQLDir:         sqlDir,
				BackupDir:      sqlDir,
				CommandTimeout: time.Minute,
			}
			if err := cfg.Validate(); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestValidate_SQLiteDatabaseURL(t *testing.T) {
	sqlDir := t.TempDir()
	cfg := &Config{
		DatabaseURL:    "sqlite://./local.db",
		LedgerTable:    "ledger",
		SQLDir:         sqlDir,
		BackupDir:      sqlDir,
		CommandTimeout: time.Minute,
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.DSN() != "sqlite://./local.db" {
		t.Errorf("unexpected DSN: %s", cfg.DSN())
	}
}
