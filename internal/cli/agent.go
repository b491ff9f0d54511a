package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/project"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/workspace"
)

func (a *app) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Open, close and list agent workspaces",
	}
	cmd.AddCommand(a.agentOpenCmd(), a.agentCloseCmd(), a.agentListCmd())
	return cmd
}

func (a *app) agentOpenCmd() *cobra.Command {
	var (
		taskID   string
		req      workspace.OpenRequest
		noShared bool
	)
	cmd := &cobra.Command{
		Use:   "open NAME",
		Short: "Create a worktree for an agent task",
		Long: `Create .agents/NAME/TASK on branch agent/NAME/TASK.

With --lock every path the task's allow list expands to is locked first;
the open fails without side effects when any of them is held by someone
else. A session named hydra-NAME-TASK (or --session) is started in the
worktree when a terminal multiplexer is available.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := core.NewOwner(args[0], taskID)
			if err != nil {
				return err
			}
			req.Owner = owner
			req.ShareDeps = !noShared
			if req.Session == "" {
				req.Session = session.Name(owner.Agent, owner.Task)
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				opened, err := p.Workspaces.Open(ctx, req)
				if err != nil {
					return err
				}
				a.printf("Opened %s\n", a.styles.ok.Render(owner.String()))
				a.printf("  worktree: %s\n", opened.Path)
				a.printf("  branch:   %s (from %s)\n", opened.Branch, opened.Base)
				if opened.Locked {
					a.printf("  locked:   %d file(s)\n", len(opened.Files))
				}
				if len(opened.Shared) > 0 {
					a.printf("  shared:   %v\n", opened.Shared)
				}
				if opened.SessionStarted {
					a.printf("  session:  %s\n", opened.Session)
				}
				for _, w := range opened.Warnings {
					a.warn("%s", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id")
	cmd.Flags().StringVar(&req.BaseRef, "base", "", "Ref to branch from (default: main, master or HEAD)")
	cmd.Flags().BoolVar(&req.Lock, "lock", false, "Lock the task's files first")
	cmd.Flags().StringVar(&req.Session, "session", "", "Session name")
	cmd.Flags().BoolVar(&noShared, "no-shared-deps", false, "Do not link shared dependency directories")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func (a *app) agentCloseCmd() *cobra.Command {
	var (
		taskID string
		req    workspace.CloseRequest
	)
	cmd := &cobra.Command{
		Use:   "close NAME",
		Short: "Release an agent task's locks and optionally tear down its worktree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				owner, err := p.Workspaces.Owner(ctx, args[0], taskID)
				if err != nil {
					return err
				}
				req.Owner = owner
				closed, err := p.Workspaces.Close(ctx, req)
				if err != nil {
					return err
				}
				a.printf("Closed %s: released %d lock(s)\n", owner, closed.Released)
				if closed.Removed {
					a.printf("  removed %s\n", p.Workspaces.Dir(owner))
				}
				for _, w := range closed.Warnings {
					a.warn("%s", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id (default: the agent's only task)")
	cmd.Flags().BoolVar(&req.RemoveWorktree, "remove-worktree", false, "Remove the worktree; the branch is kept")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Remove the worktree even with local changes")
	cmd.Flags().BoolVar(&req.KillSession, "kill-session", false, "Tear down the agent session")
	return cmd
}

func (a *app) agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agent workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				states, err := p.Workspaces.List(ctx)
				if err != nil {
					return err
				}
				if len(states) == 0 {
					a.printf("No agent workspaces.\n")
					return nil
				}
				rows := make([][]string, 0, len(states))
				for _, st := range states {
					status := "ok"
					switch {
					case !st.DirExists:
						status = a.styles.warn.Render("no worktree")
					case !st.BranchExists:
						status = a.styles.warn.Render("no branch")
					}
					live := "-"
					if name := session.Name(st.Owner.Agent, st.Owner.Task); p.Sessions.Name() != "none" && p.Sessions.Alive(ctx, name) {
						live = name
					}
					rows = append(rows, []string{st.Owner.Agent, st.Owner.Task, status, live, st.Branch})
				}
				a.styles.table(a.stdout, []string{"AGENT", "TASK", "STATE", "SESSION", "BRANCH"}, rows)
				return nil
			})
		},
	}
}
