// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"sql-migration-tool/internal/domain"
)

const sqliteScheme = "sqlite://"

// Config はアプリケーション設定を表す。
type Config struct {
	// 接続情報
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	// DatabaseURL が指定された場合は DB_* より優先する（例: sqlite://./local.db）
	// MySQLの接続文字列は Validate で DB_* に展開される
	DatabaseURL string
	// DatabaseURL から引き継ぐ接続パラメータ
	urlConfig *mysql.Config

	LedgerTable string
	SQLDir      string
	BackupDir   string

	BackupWarnThreshold int
	CommandTimeout      time.Duration
	LockTimeout         time.Duration
	LockName            string
	MySQLDumpBin        string
	MySQLBin            string
	SQLiteBin           string

	Port               string
	LogLevel           string
	KMSKeyName         string
	GoogleCloudProject string

	// 空の場合はメトリクスを送信しない
	PushgatewayURL string

	OtelEnabled      bool
	OtelInsecure     bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64
}

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "3306"),
		DBName:             os.Getenv("DB_NAME"),
		DBUser:             getEnv("DB_USER", "root"),
		DBPassword:         os.Getenv("DB_PASSWORD"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LedgerTable:        getEnv("LEDGER_TABLE", "current_state_database"),
		SQLDir:             getEnv("SQL_DIR", "sql"),
		BackupDir:          getEnv("BACKUP_DIR", "backup"),
		LockName:           getEnv("LOCK_NAME", "migctl"),
		MySQLDumpBin:       getEnv("MYSQLDUMP_BIN", "mysqldump"),
		MySQLBin:           getEnv("MYSQL_BIN", "mysql"),
		SQLiteBin:          getEnv("SQLITE_BIN", "sqlite3"),
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		PushgatewayURL:     os.Getenv("PUSHGATEWAY_URL"),
		OtelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:    getEnv("OTEL_SERVICE_NAME", "migctl"),
	}

	var err error
	if cfg.BackupWarnThreshold, err = getEnvInt("BACKUP_WARN_THRESHOLD", 10); err != nil {
		return nil, err
	}
	if cfg.CommandTimeout, err = getEnvDuration("COMMAND_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getEnvDuration("LOCK_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OtelEnabled, err = getEnvBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.OtelInsecure, err = getEnvBool("OTEL_INSECURE", false); err != nil {
		return nil, err
	}
	if cfg.OtelSamplingRate, err = getEnvFloat("OTEL_SAMPLING_RATE", 1.0); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値を検証し、ディレクトリを絶対パスに解決する。
// SQLディレクトリが存在しない場合はエラー、バックアップディレクトリは存在しなければ作成する。
func (c *Config) Validate() error {
	_, isSQLite := c.SQLitePath()
	if c.DatabaseURL != "" && !isSQLite {
		if err := c.applyDatabaseURL(); err != nil {
			return err
		}
	}
	if c.DBName == "" && !isSQLite {
		return fmt.Errorf("%w: DB_NAME environment variable is required", domain.ErrConfiguration)
	}
	if c.LedgerTable == "" {
		return fmt.Errorf("%w: LEDGER_TABLE must not be empty", domain.ErrConfiguration)
	}

	sqlDir, err := filepath.Abs(c.SQLDir)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve SQL directory %q: %v", domain.ErrConfiguration, c.SQLDir, err)
	}
	info, err := os.Stat(sqlDir)
	if err != nil {
		return fmt.Errorf("%w: SQL directory %q: %v", domain.ErrConfiguration, sqlDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: SQL directory %q is not a directory", domain.ErrConfiguration, sqlDir)
	}
	c.SQLDir = sqlDir

	backupDir, err := filepath.Abs(c.BackupDir)
	if err != nil {
		return fmt.Errorf("%w: failed to resolve backup directory %q: %v", domain.ErrConfiguration, c.BackupDir, err)
	}
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("%w: backup directory %q: %v", domain.ErrConfiguration, backupDir, err)
	}
	c.BackupDir = backupDir

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: COMMAND_TIMEOUT must be positive", domain.ErrConfiguration)
	}
	return nil
}

// applyDatabaseURL はMySQLの DATABASE_URL を解析し、DB_* の各値を置き換える。
// 接続とダンプ・ロードが必ず同じデータベースを対象にするよう、以降は DB_* のみを使う。
func (c *Config) applyDatabaseURL() error {
	mc, err := mysql.ParseDSN(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("%w: DATABASE_URL: %v", domain.ErrConfiguration, err)
	}
	if mc.Net != "tcp" {
		return fmt.Errorf("%w: DATABASE_URL: unsupported network %q (only tcp)", domain.ErrConfiguration, mc.Net)
	}
	host, port, err := net.SplitHostPort(mc.Addr)
	if err != nil {
		return fmt.Errorf("%w: DATABASE_URL: address %q: %v", domain.ErrConfiguration, mc.Addr, err)
	}
	if mc.DBName == "" {
		return fmt.Errorf("%w: DATABASE_URL must name a database", domain.ErrConfiguration)
	}

	c.DBHost = host
	c.DBPort = port
	c.DBUser = mc.User
	c.DBPassword = mc.Passwd
	c.DBName = mc.DBName
	c.urlConfig = mc
	return nil
}

// DSN はgo-sql-driver/mysql形式の接続文字列を返す。
// sqlite:// の DATABASE_URL はそのまま返す。
func (c *Config) DSN() string {
	if _, ok := c.SQLitePath(); ok {
		return c.DatabaseURL
	}
	mc := mysql.NewConfig()
	if c.urlConfig != nil {
		mc = c.urlConfig.Clone()
	}
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.DBHost, c.DBPort)
	mc.DBName = c.DBName
	mc.ParseTime = true
	// マイグレーションファイルは複数のステートメントを含む
	mc.MultiStatements = true
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	if _, ok := mc.Params["charset"]; !ok {
		mc.Params["charset"] = "utf8mb4"
	}
	return mc.FormatDSN()
}

// SQLitePath は DATABASE_URL が sqlite:// で始まる場合にファイルパスを返す。
func (c *Config) SQLitePath() (string, bool) {
	return strings.CutPrefix(c.DatabaseURL, sqliteScheme)
}

// Database はダンプ・ロード対象のデータベース名を返す。
func (c *Config) Database() string {
	if c.DBName != "" {
		return c.DBName
	}
	return "database"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, key, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, key, err)
	}
	return b, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, key, err)
	}
	return f, nil
}
