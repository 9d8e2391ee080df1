package infra

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"sql-migration-tool/config"
	"sql-migration-tool/internal/domain"
)

// fakeRunner はテスト用のCommandRunner。実行時のオプションファイルの内容も記録する。
type fakeRunner struct {
	name          string
	args          []string
	stdin         string
	optionFile    string
	optionContent string
	output        string
	err           error
	block         bool
}

func (r *fakeRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	r.name = name
	r.args = args
	if len(args) > 0 {
		r.optionFile = strings.TrimPrefix(args[0], "--defaults-extra-file=")
		content, _ := os.ReadFile(r.optionFile)
		r.optionContent = string(content)
	}
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		r.stdin = string(b)
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	_, err := io.WriteString(stdout, r.output)
	return err
}

func testDumperConfig() *config.Config {
	return &config.Config{
		DBHost:         "localhost",
		DBPort:         "3306",
		DBName:         "test",
		DBUser:         "root",
		DBPassword:     `pa"ss\word`,
		MySQLDumpBin:   "mysqldump",
		MySQLBin:       "mysql",
		CommandTimeout: time.Second,
	}
}

func TestMySQLDumper_Dump(t *testing.T) {
	runner := &fakeRunner{output: "-- MySQL dump\n"}
	dumper := NewMySQLDumper(testDumperConfig(), runner)

	var buf bytes.Buffer
	if err := dumper.Dump(context.Background(), &buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	if buf.String() != "-- MySQL dump\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
	if runner.name != "mysqldump" {
		t.Errorf("unexpected command: %s", runner.name)
	}
	if !strings.HasPrefix(runner.args[0], "--defaults-extra-file=") {
		t.Errorf("expected option file as first argument, got %v", runner.args)
	}
	if runner.args[len(runner.args)-1] != "test" {
		t.Errorf("expected database name as last argument, got %v", runner.args)
	}

	// パスワードは引数に現れず、オプションファイルにのみ書かれる
	for _, arg := range runner.args {
		if strings.Contains(arg, "pa") && strings.Contains(arg, "word") {
			t.Errorf("password leaked into arguments: %v", runner.args)
		}
	}
	if !strings.Contains(runner.optionContent, `password="pa\"ss\\word"`) {
		t.Errorf("unexpected option file content: %q", runner.optionContent)
	}

	// オプションファイルは実行後に削除される
	if _, err := os.Stat(runner.optionFile); !os.IsNotExist(err) {
		t.Errorf("expected option file to be removed, got %v", err)
	}
}

func TestMySQLDumper_Load(t *testing.T) {
	runner := &fakeRunner{}
	dumper := NewMySQLDumper(testDumperConfig(), runner)

	if err := dumper.Load(context.Background(), strings.NewReader("CREATE TABLE t (id INT);")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if runner.name != "mysql" {
		t.Errorf("unexpected command: %s", runner.name)
	}
	if runner.stdin != "CREATE TABLE t (id INT);" {
		t.Errorf("unexpected stdin: %q", runner.stdin)
	}
	if runner.args[len(runner.args)-1] != "--database=test" {
		t.Errorf("unexpected args: %v", runner.args)
	}
}

func TestMySQLDumper_Timeout(t *testing.T) {
	cfg := testDumperConfig()
	cfg.CommandTimeout = 20 * time.Millisecond
	dumper := NewMySQLDumper(cfg, &fakeRunner{block: true})

	err := dumper.Dump(context.Background(), io.Discard)
	if !errors.Is(err, domain.ErrCommandTimeout) {
		t.Errorf("expected ErrCommandTimeout, got %v", err)
	}
}

func TestMySQLDumper_Failure(t *testing.T) {
	wantErr := errors.New("access denied")
	dumper := NewMySQLDumper(testDumperConfig(), &fakeRunner{err: wantErr})

	err := dumper.Dump(context.Background(), io.Discard)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestExecRunner_PipesStdinToStdout(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	var out bytes.Buffer
	err := ExecRunner{}.Run(context.Background(), "cat", nil, strings.NewReader("hello"), &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestSQLiteDumper(t *testing.T) {
	cfg := &config.Config{SQLiteBin: "sqlite3", CommandTimeout: time.Second}
	runner := &fakeRunner{output: "BEGIN TRANSACTION;\nCOMMIT;\n"}
	dumper := NewSQLiteDumper(cfg, "/data/local.db", runner)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := dumper.Dump(ctx, &buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	if runner.name != "sqlite3" || strings.Join(runner.args, " ") != "/data/local.db .dump" {
		t.Errorf("unexpected command: %s %v", runner.name, runner.args)
	}
	if buf.String() != runner.output {
		t.Errorf("unexpected output: %q", buf.String())
	}

	if err := dumper.Load(ctx, strings.NewReader("CREATE TABLE t (id INTEGER);")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if strings.Join(runner.args, " ") != "-bail /data/local.db" {
		t.Errorf("unexpected args: %v", runner.args)
	}
	if runner.stdin != "CREATE TABLE t (id INTEGER);" {
		t.Errorf("unexpected stdin: %q", runner.stdin)
	}
}

func TestNewDumper(t *testing.T) {
	if _, ok := NewDumper(&config.Config{DatabaseURL: "sqlite://local.db"}, ExecRunner{}).(*SQLiteDumper); !ok {
		t.Error("expected SQLiteDumper for sqlite:// URL")
	}
	if _, ok := NewDumper(&config.Config{DBName: "app"}, ExecRunner{}).(*MySQLDumper); !ok {
		t.Error("expected MySQLDumper by default")
	}
}

func TestMySQLDumper_FollowsDatabaseURL(t *testing.T) {
	cfg := testDumperConfig()
	cfg.DatabaseURL = "app:secret@tcp(prod-db:3307)/shop"
	cfg.LedgerTable = "ledger"
	cfg.SQLDir = t.TempDir()
	cfg.BackupDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	runner := &fakeRunner{}
	if err := NewMySQLDumper(cfg, runner).Dump(context.Background(), io.Discard); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	// 接続先と同じデータベースをダンプする
	if runner.args[len(runner.args)-1] != "shop" {
		t.Errorf("expected database from DATABASE_URL, got %v", runner.args)
	}
	for _, want := range []string{`host="prod-db"`, `port="3307"`, `user="app"`, `password="secret"`} {
		if !strings.Contains(runner.optionContent, want) {
			t.Errorf("option file missing %s: %q", want, runner.optionContent)
		}
	}
}
