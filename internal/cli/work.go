package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/project"
	"github.com/mistakeknot/hydra/internal/snapshot"
)

func (a *app) snapshotCmd() *cobra.Command {
	var (
		taskID   string
		debounce time.Duration
		maxWait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot AGENT",
		Short: "Commit an agent's worktree once it stops changing",
		Long: `Stage everything in the agent's worktree, wait until the changed files
have been quiet for --debounce, then commit under the agent's identity and
record the commit in the journal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				owner, err := p.Workspaces.Owner(ctx, args[0], taskID)
				if err != nil {
					return err
				}
				opts := snapshot.Options{Debounce: p.Config.Snapshot.Debounce, MaxWait: p.Config.Snapshot.MaxWait}
				if cmd.Flags().Changed("debounce") {
					opts.Debounce = debounce
				}
				if cmd.Flags().Changed("max-wait") {
					opts.MaxWait = maxWait
				}
				res, err := p.Snapshots.Snapshot(ctx, owner, opts)
				if err != nil {
					return err
				}
				if res.NoChanges {
					a.printf("No changes in %s\n", owner)
					return nil
				}
				a.printf("Snapshot %s for %s\n", a.styles.ok.Render(short(res.Commit)), owner)
				if res.Files != "" {
					a.printf("  %s\n", journal.FormatFiles(res.Files))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (default: the agent's only task)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before committing (default from config)")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "Give up after this long (default from config)")
	return cmd
}

func (a *app) changesCmd() *cobra.Command {
	var (
		since  string
		filter journal.Filter
	)
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show journaled commits",
		Long: `Show commits recorded in the journal, oldest first.

--since accepts unix seconds, a local time such as "2024-05-01 14:30", or
a duration such as "10 minutes", "1h30m" or "2 days ago".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since != "" {
				t, err := journal.ParseSince(since, time.Now())
				if err != nil {
					return err
				}
				filter.Since = t
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				entries, skipped, err := p.Journal.Read(filter)
				if err != nil {
					return err
				}
				if skipped > 0 {
					a.warn("skipped %d malformed journal line(s)", skipped)
				}
				if len(entries) == 0 {
					a.printf("No changes.\n")
					return nil
				}
				for _, e := range entries {
					who := e.Agent
					if e.Task != "" {
						who += "/" + e.Task
					}
					a.printf("%s  %s  %-8s  %s  %s\n",
						a.styles.dim.Render(e.Time.Local().Format("2006-01-02 15:04:05")),
						short(e.Commit), e.Kind, orDash(who), journal.FormatFiles(e.Files))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only changes at or after this time")
	cmd.Flags().StringVar(&filter.Agent, "agent", "", "Only this agent")
	cmd.Flags().StringVar(&filter.Task, "task", "", "Only this task")
	return cmd
}

func (a *app) diffCmd() *cobra.Command {
	var (
		taskID string
		stat   bool
	)
	cmd := &cobra.Command{
		Use:   "diff AGENT",
		Short: "Show what an agent's tasks change relative to trunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				diffs, err := p.Merges.Diff(ctx, args[0], taskID)
				if err != nil {
					return err
				}
				for _, d := range diffs {
					a.printf("%s\n", a.styles.header.Render(fmt.Sprintf("== %s (%s..%s)", d.Owner, short(d.MergeBase), d.Target)))
					if !stat {
						a.printf("%s", d.Patch)
						continue
					}
					var added, deleted int
					for _, s := range d.Stats {
						a.printf(" %s | %s %s\n", s.Path, a.styles.ok.Render(fmt.Sprintf("+%d", s.Added)), a.styles.err.Render(fmt.Sprintf("-%d", s.Deleted)))
						added += s.Added
						deleted += s.Deleted
					}
					a.printf(" %d file(s) changed, %d insertion(s), %d deletion(s)\n", len(d.Stats), added, deleted)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Only this task")
	cmd.Flags().BoolVar(&stat, "stat", false, "Per-file line counts instead of the patch")
	return cmd
}

func short(sha string) string {
	return sha[:min(8, len(sha))]
}
