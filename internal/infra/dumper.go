package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"sql-migration-tool/config"
	"sql-migration-tool/internal/domain"
	"sql-migration-tool/internal/usecase"
)

// CommandRunner は外部コマンドを実行する。
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error
}

// ExecRunner は os/exec による CommandRunner の実装。シェルは経由しない。
type ExecRunner struct{}

// Run はコマンドを実行し、終了を待つ。失敗時は標準エラー出力をエラーに含める。
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// NewDumper は接続先に応じたDumperを返す。
func NewDumper(cfg *config.Config, runner CommandRunner) usecase.Dumper {
	if path, ok := cfg.SQLitePath(); ok {
		return NewSQLiteDumper(cfg, path, runner)
	}
	return NewMySQLDumper(cfg, runner)
}

// MySQLDumper は mysqldump / mysql クライアントでダンプとロードを行う。
// 認証情報は一時的なオプションファイル（--defaults-extra-file）で渡し、引数には含めない。
type MySQLDumper struct {
	runner   CommandRunner
	dumpBin  string
	mysqlBin string
	host     string
	port     string
	user     string
	password string
	database string
	timeout  time.Duration
}

// NewMySQLDumper は新しいMySQLDumperを生成する。
func NewMySQLDumper(cfg *config.Config, runner CommandRunner) *MySQLDumper {
	return &MySQLDumper{
		runner:   runner,
		dumpBin:  cfg.MySQLDumpBin,
		mysqlBin: cfg.MySQLBin,
		host:     cfg.DBHost,
		port:     cfg.DBPort,
		user:     cfg.DBUser,
		password: cfg.DBPassword,
		database: cfg.DBName,
		timeout:  cfg.CommandTimeout,
	}
}

// Dump はデータベース全体（全テーブル）のダンプを w に書き出す。
func (d *MySQLDumper) Dump(ctx context.Context, w io.Writer) error {
	return d.run(ctx, d.dumpBin, []string{"--single-transaction", "--add-drop-table", d.database}, nil, w)
}

// Load はダンプを r から読み込み、データベースに流し込む。
func (d *MySQLDumper) Load(ctx context.Context, r io.Reader) error {
	return d.run(ctx, d.mysqlBin, []string{"--database=" + d.database}, r, io.Discard)
}

func (d *MySQLDumper) run(ctx context.Context, bin string, args []string, stdin io.Reader, stdout io.Writer) error {
	optionFile, err := d.writeOptionFile()
	if err != nil {
		return err
	}
	defer os.Remove(optionFile)

	// --defaults-extra-file は先頭の引数でなければならない
	fullArgs := append([]string{"--defaults-extra-file=" + optionFile}, args...)
	return runCommand(ctx, d.runner, d.timeout, bin, fullArgs, args, stdin, stdout)
}

// runCommand は timeout 付きでコマンドを実行する。ログには logArgs のみを出力する。
func runCommand(ctx context.Context, runner CommandRunner, timeout time.Duration, bin string, args, logArgs []string, stdin io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	slog.InfoContext(ctx, "running external command",
		"command", bin,
		"args", logArgs,
		"timeout", timeout.String(),
	)

	err := runner.Run(ctx, bin, args, stdin, stdout)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		slog.ErrorContext(ctx, "external command timed out",
			"command", bin,
			"timeout", timeout.String(),
		)
		return fmt.Errorf("%w: %s after %s", domain.ErrCommandTimeout, bin, timeout)
	}
	if err != nil {
		slog.ErrorContext(ctx, "external command failed",
			"command", bin,
			"error", err,
		)
		return err
	}

	slog.DebugContext(ctx, "external command finished",
		"command", bin,
		"duration", time.Since(start).String(),
	)
	return nil
}

// writeOptionFile は [client] セクションに接続情報を書いた0600のファイルを作成する。
func (d *MySQLDumper) writeOptionFile() (string, error) {
	f, err := os.CreateTemp("", "migctl-*.cnf")
	if err != nil {
		return "", fmt.Errorf("creating option file: %w", err)
	}
	defer f.Close()

	if err := f.Chmod(0o600); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("creating option file: %w", err)
	}

	var b strings.Builder
	b.WriteString("[client]\n")
	fmt.Fprintf(&b, "host=%s\n", quoteOption(d.host))
	fmt.Fprintf(&b, "port=%s\n", quoteOption(d.port))
	fmt.Fprintf(&b, "user=%s\n", quoteOption(d.user))
	if d.password != "" {
		fmt.Fprintf(&b, "password=%s\n", quoteOption(d.password))
	}

	if _, err := f.WriteString(b.String()); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing option file: %w", err)
	}
	return f.Name(), nil
}

func quoteOption(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// SQLiteDumper は sqlite3 コマンドの .dump でダンプし、標準入力からロードする。
type SQLiteDumper struct {
	runner  CommandRunner
	bin     string
	path    string
	timeout time.Duration
}

// NewSQLiteDumper は新しいSQLiteDumperを生成する。
func NewSQLiteDumper(cfg *config.Config, path string, runner CommandRunner) *SQLiteDumper {
	return &SQLiteDumper{
		runner:  runner,
		bin:     cfg.SQLiteBin,
		path:    path,
		timeout: cfg.CommandTimeout,
	}
}

// Dump はデータベース全体のダンプを w に書き出す。
func (d *SQLiteDumper) Dump(ctx context.Context, w io.Writer) error {
	args := []string{d.path, ".dump"}
	return runCommand(ctx, d.runner, d.timeout, d.bin, args, args, nil, w)
}

// Load はダンプを r から読み込み、データベースに流し込む。
func (d *SQLiteDumper) Load(ctx context.Context, r io.Reader) error {
	args := []string{"-bail", d.path}
	return runCommand(ctx, d.runner, d.timeout, d.bin, args, args, r, io.Discard)
}
