package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/hook"
	"github.com/mistakeknot/hydra/internal/project"
)

// hookCmd is what the installed git hooks run.
func (a *app) hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Run a git hook",
		Hidden: true,
	}
	run := func(fn func(ctx context.Context, p *project.Project, env hook.Env, dir string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			env := hook.EnvFrom(a.getenv)
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				return fn(ctx, p, env, dir)
			})
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:  "pre-commit",
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, p *project.Project, env hook.Env, dir string) error {
			if err := p.Hooks.PreCommit(ctx, env, dir); err != nil {
				return fmt.Errorf("pre-commit blocked: %w", err)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "commit-msg MSGFILE",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, p *project.Project, env hook.Env, dir string) error {
				return p.Hooks.CommitMsg(env, args[0])
			})(cmd, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "post-commit",
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, p *project.Project, env hook.Env, dir string) error {
			_, _, err := p.Hooks.PostCommit(ctx, env, dir)
			return err
		}),
	})
	return cmd
}

func (a *app) hooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage the git hooks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the pre-commit, commit-msg and post-commit hooks",
		Long: `Write the hydra pre-commit, commit-msg and post-commit hooks into
.git/hooks and point core.hooksPath at them. Hooks not written by hydra are
moved aside to <name>.bak.<unix time>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				return a.install(ctx, p)
			})
		},
	})
	return cmd
}
