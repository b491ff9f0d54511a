package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/merge"
	"github.com/mistakeknot/hydra/internal/project"
)

func (a *app) mergeCmd() *cobra.Command {
	var (
		taskID string
		squash bool
		abort  bool
	)
	cmd := &cobra.Command{
		Use:   "merge AGENT",
		Short: "Merge an agent's branch into trunk",
		Long: `Merge agent/AGENT/TASK into trunk, then remove the agent's session,
locks, worktree and branch.

The merge is refused before anything changes when the agent worktree has
uncommitted changes or when another agent holds a lock on a changed file.
On a content conflict the merge is left in progress for you to resolve
and hydra exits with status 1; --abort abandons it.`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				if abort {
					res, err := p.Merges.Abort(ctx)
					if err != nil {
						return err
					}
					a.printf("Aborted merge in %s\n", res.Worktree)
					if res.Removed {
						a.printf("  removed temporary worktree\n")
					}
					return nil
				}
				if len(args) == 0 {
					return cmd.Usage()
				}
				owner, err := p.Workspaces.Owner(ctx, args[0], taskID)
				if err != nil {
					return err
				}
				res, err := p.Merges.Merge(ctx, merge.Request{Owner: owner, Squash: squash})
				if err != nil {
					return err
				}
				if res.Empty {
					a.printf("Nothing to merge from %s; trunk %s unchanged\n", res.Branch, res.Trunk)
				} else {
					a.printf("Merged %s into %s at %s\n", res.Branch, res.Trunk, a.styles.ok.Render(short(res.Commit)))
				}
				a.printf("  released %d lock(s), removed worktree and branch\n", res.Released)
				for _, w := range res.Warnings {
					a.warn("%s", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (default: the agent's only task)")
	cmd.Flags().BoolVar(&squash, "squash", false, "Squash the branch into one commit")
	cmd.Flags().BoolVar(&abort, "abort", false, "Abandon a merge left in progress")
	return cmd
}

func (a *app) rollbackCmd() *cobra.Command {
	var (
		taskID string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "rollback AGENT",
		Short: "Revert an agent branch back to an earlier commit",
		Long: `Revert every commit on agent/AGENT/TASK after --to in one new commit.
History is kept. HEAD, HEAD~n and HEAD^ refer to the agent branch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				owner, err := p.Workspaces.Owner(ctx, args[0], taskID)
				if err != nil {
					return err
				}
				res, err := p.Merges.Rollback(ctx, merge.RollbackRequest{Owner: owner, To: to})
				if err != nil {
					return err
				}
				if res.NoOp {
					a.printf("%s is already at %s\n", res.Branch, to)
					return nil
				}
				a.printf("Rolled back %s to %s: reverted %d commit(s) in %s\n",
					res.Branch, to, res.Reverted, a.styles.ok.Render(short(res.Commit)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (default: the agent's only task)")
	cmd.Flags().StringVar(&to, "to", "", "Commit to roll back to")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
