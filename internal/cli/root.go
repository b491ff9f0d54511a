// Package cli implements the hydra command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/project"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitConflict = 1
	ExitError    = 2
)

type app struct {
	dir     string
	verbose bool

	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	logger *slog.Logger
	styles styles
}

// Run executes the hydra command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		getenv: os.Getenv,
		styles: newStyles(stdout),
	}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	a.report(err)
	return ExitCode(err)
}

// ExitCode maps an error onto the documented exit status: 1 when a merge
// is left for a human to resolve, 2 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var mc *core.MergeConflictError
	if errors.As(err, &mc) {
		return ExitConflict
	}
	return ExitError
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hydra",
		Short: "Coordinate coding agents working in one repository",
		Long: `hydra gives every agent task its own git worktree and branch, guards
files with exclusive locks, snapshots and journals agent work, and merges
or rolls it back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = newLogger(a.stderr, a.verbose)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "Run as if started in this directory")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(a.initCmd())
	cmd.AddCommand(a.taskCmd())
	cmd.AddCommand(a.allowedCmd())
	cmd.AddCommand(a.locksCmd())
	cmd.AddCommand(a.agentCmd())
	cmd.AddCommand(a.snapshotCmd())
	cmd.AddCommand(a.changesCmd())
	cmd.AddCommand(a.diffCmd())
	cmd.AddCommand(a.mergeCmd())
	cmd.AddCommand(a.rollbackCmd())
	cmd.AddCommand(a.hookCmd())
	cmd.AddCommand(a.hooksCmd())
	return cmd
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func (a *app) open(ctx context.Context) (*project.Project, error) {
	return project.Open(ctx, project.Options{Dir: a.dir, Logger: a.logger})
}

// withProject opens the project for the duration of fn.
func (a *app) withProject(cmd *cobra.Command, fn func(ctx context.Context, p *project.Project) error) error {
	ctx := cmd.Context()
	p, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(ctx, p)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}

func (a *app) warn(format string, args ...any) {
	fmt.Fprintln(a.stderr, a.styles.warn.Render("warning:")+" "+fmt.Sprintf(format, args...))
}

func (a *app) report(err error) {
	fmt.Fprintln(a.stderr, a.styles.err.Render("error:")+" "+err.Error())
	var mc *core.MergeConflictError
	if errors.As(err, &mc) {
		fmt.Fprintln(a.stderr, a.styles.conflictReport(mc))
	}
}
