package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/permission"
	"github.com/mistakeknot/hydra/internal/project"
	"github.com/mistakeknot/hydra/internal/storage/sqlite"
)

func (a *app) locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Acquire, release and inspect file locks",
	}
	cmd.AddCommand(a.locksAcquireCmd(), a.locksReleaseCmd(), a.locksListCmd(), a.locksCleanupCmd())
	return cmd
}

type ownerFlags struct {
	agent string
	task  string
}

func (o *ownerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.agent, "agent", "", "Agent name")
	cmd.Flags().StringVar(&o.task, "task", "", "Task id")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("task")
}

func (o *ownerFlags) owner() (core.Owner, error) {
	return core.NewOwner(o.agent, o.task)
}

func (a *app) locksAcquireCmd() *cobra.Command {
	var (
		of      ownerFlags
		session string
	)
	cmd := &cobra.Command{
		Use:   "acquire FILE...",
		Short: "Lock files for an agent task, all or nothing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := of.owner()
			if err != nil {
				return err
			}
			files, err := permission.ValidatePatterns(args)
			if err != nil {
				return err
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				if err := p.Locks.Acquire(ctx, files, owner, session); err != nil {
					return err
				}
				a.printf("Locked %d file(s) for %s\n", len(files), owner)
				return nil
			})
		},
	}
	of.register(cmd)
	cmd.Flags().StringVar(&session, "session", "", "Session whose end releases the locks")
	return cmd
}

func (a *app) locksReleaseCmd() *cobra.Command {
	var of ownerFlags
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release every lock held by an agent task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := of.owner()
			if err != nil {
				return err
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				n, err := p.Locks.Release(ctx, owner)
				if err != nil {
					return err
				}
				a.printf("Released %d lock(s) for %s\n", n, owner)
				return nil
			})
		},
	}
	of.register(cmd)
	return cmd
}

func (a *app) locksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List held locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				locks, err := p.Locks.List(ctx)
				if err != nil {
					return err
				}
				if len(locks) == 0 {
					a.printf("No locks held.\n")
					return nil
				}
				rows := make([][]string, 0, len(locks))
				for _, l := range locks {
					rows = append(rows, []string{l.File, l.Owner.String(), orDash(l.Session), age(l.LockedAt)})
				}
				a.styles.table(a.stdout, []string{"FILE", "OWNER", "SESSION", "LOCKED"}, rows)
				return nil
			})
		},
	}
}

func (a *app) locksCleanupCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Release locks whose sessions have ended",
		Long: `Release locks tagged with a session that is no longer running.

With --watch the cleanup repeats on that interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				if watch <= 0 {
					n, err := p.Locks.GCDead(ctx)
					if err != nil {
						return err
					}
					a.printf("Removed %d dead lock(s)\n", n)
					return nil
				}
				sw := sqlite.NewSweeper(p.Locks, watch, p.Logger, func(n int) {
					if n > 0 {
						a.printf("%s removed %d dead lock(s)\n", time.Now().Format("15:04:05"), n)
					}
				})
				sw.Start(ctx)
				<-ctx.Done()
				sw.Stop()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "Repeat on this interval until interrupted")
	return cmd
}
