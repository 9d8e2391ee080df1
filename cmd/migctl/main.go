// Package main はマイグレーションCLIのエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// operation はCLIで選択された操作。
type operation string

const (
	opState   operation = "state"
	opMigrate operation = "migrate"
	opBackup  operation = "backup"
	opRestore operation = "restore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd(func(ctx context.Context, op operation) error {
		return runOperation(ctx, op, os.Stdin, os.Stdout)
	})

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd はルートコマンドを生成する。操作フラグはちょうど1つ指定する必要がある。
func newRootCmd(run func(ctx context.Context, op operation) error) *cobra.Command {
	var state, migrate, backup, restore bool
	help := &helpFlag{conflict: func() bool { return state || migrate || backup || restore }}

	cmd := &cobra.Command{
		Use:   "migctl",
		Short: "Apply ordered SQL migrations with backup and restore",
		Long: "migctl applies SQL files from the source directory in filename order,\n" +
			"records every applied file in the ledger table and keeps backups of the\n" +
			"database before changing it.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if help.set {
				return errors.New("--help cannot be combined with an operation")
			}
			// フラグの検証を通過した後のエラーでは使い方を表示しない
			cmd.SilenceUsage = true

			switch {
			case state:
				return run(cmd.Context(), opState)
			case migrate:
				return run(cmd.Context(), opMigrate)
			case backup:
				return run(cmd.Context(), opBackup)
			case restore:
				return run(cmd.Context(), opRestore)
			}
			return errors.New("one of --state, --migrate, --backup or --restore is required")
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&state, "state", "s", false, "Show applied and new migration files")
	flags.BoolVarP(&migrate, "migrate", "m", false, "Back up the database and apply new migration files")
	flags.BoolVarP(&backup, "backup", "b", false, "Create a backup of the current database")
	flags.BoolVarP(&restore, "restore", "r", false, "Restore the database from a chosen backup")
	flags.VarPF(help, "help", "h", "help for migctl").NoOptDefVal = "true"

	opFlags := []string{"state", "migrate", "backup", "restore"}
	cmd.MarkFlagsMutuallyExclusive(opFlags...)
	cmd.MarkFlagsOneRequired(opFlags...)

	cmd.AddCommand(versionCmd())
	return cmd
}

// helpFlag は -h と操作フラグが同時に指定された場合にヘルプを表示させず、
// RunE で使い方の誤りとして扱わせるための --help フラグ。
type helpFlag struct {
	set      bool
	conflict func() bool
}

func (f *helpFlag) String() string { return strconv.FormatBool(f.set && !f.conflict()) }

func (f *helpFlag) Set(v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	f.set = b
	return nil
}

func (f *helpFlag) Type() string { return "bool" }

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "migctl version %s\n", version)
		},
	}
}
