package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/permission"
	"github.com/mistakeknot/hydra/internal/project"
	"github.com/mistakeknot/hydra/internal/tasks"
)

func (a *app) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and inspect tasks",
	}
	cmd.AddCommand(a.taskNewCmd(), a.taskListCmd(), a.taskShowCmd())
	return cmd
}

func (a *app) taskNewCmd() *cobra.Command {
	var req tasks.CreateRequest
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a task with an allow list",
		Long: `Create a task restricted to the paths matched by its allow patterns.

Patterns are repository-relative; * and ? match within a path segment and
** matches any number of segments. Existing tasks whose allow lists can
match the same paths are reported as warnings.

Examples:
  hydra task new --title "Parser" --allow 'src/parser/**'
  hydra task new --id t7 --allow src/a.go --allow 'docs/*.md'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				task, err := p.Tasks.Create(req)
				if err != nil {
					return err
				}
				a.printf("Created task %s\n", a.styles.ok.Render(task.ID))
				a.printf("  allow: %s\n", strings.Join(task.Allow, ", "))

				existing, _, err := p.Tasks.List()
				if err != nil {
					a.warn("check overlapping tasks: %v", err)
					return nil
				}
				others := existing[:0]
				for _, t := range existing {
					if t.ID != task.ID {
						others = append(others, t)
					}
				}
				overlaps, err := permission.Overlapping(task.Allow, others)
				if err != nil {
					a.warn("check overlapping tasks: %v", err)
					return nil
				}
				for _, o := range overlaps {
					a.warn("pattern %q overlaps %q from task %s", o.Ours, o.Their, o.Task)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Task title")
	cmd.Flags().StringArrayVar(&req.Allow, "allow", nil, "Allowed path pattern (repeatable)")
	cmd.Flags().StringVar(&req.ID, "id", "", "Explicit task id such as t7 (default: generated)")
	_ = cmd.MarkFlagRequired("allow")
	return cmd
}

func (a *app) taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				list, skipped, err := p.Tasks.List()
				if err != nil {
					return err
				}
				for _, s := range skipped {
					a.warn("skipped unreadable task file %s", s)
				}
				if len(list) == 0 {
					a.printf("No tasks.\n")
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, t := range list {
					rows = append(rows, []string{t.ID, orDash(t.Title), age(t.Created), strings.Join(t.Allow, " ")})
				}
				a.styles.table(a.stdout, []string{"ID", "TITLE", "CREATED", "ALLOW"}, rows)
				return nil
			})
		},
	}
}

func (a *app) taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				t, err := p.Tasks.Load(args[0])
				if err != nil {
					return err
				}
				a.printf("%s %s\n", a.styles.header.Render("id:"), t.ID)
				a.printf("%s %s\n", a.styles.header.Render("title:"), orDash(t.Title))
				a.printf("%s %s (%s)\n", a.styles.header.Render("created:"), t.Created.Format("2006-01-02 15:04:05"), age(t.Created))
				a.printf("%s\n", a.styles.header.Render("allow:"))
				for _, pat := range t.Allow {
					a.printf("  %s\n", pat)
				}
				return nil
			})
		},
	}
}

func (a *app) allowedCmd() *cobra.Command {
	var (
		taskID string
		allow  []string
	)
	cmd := &cobra.Command{
		Use:   "allowed PATH",
		Short: "Check whether a path is allowed for a task",
		Long: `Check a path against a task's allow list, or against --allow patterns.

Matching is shell-style: * and ? also match across '/', so a file created
after a task's locks were taken is still recognized when committed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (taskID == "") == (len(allow) == 0) {
				return core.Invalid("arguments", "", "pass exactly one of --task or --allow")
			}
			check := func(patterns []string, scope string) error {
				if !permission.IsAllowed(args[0], patterns) {
					return fmt.Errorf("%s is not allowed by %s", args[0], scope)
				}
				a.printf("%s %s\n", a.styles.ok.Render("allowed:"), args[0])
				return nil
			}
			if taskID == "" {
				patterns, err := permission.ValidatePatterns(allow)
				if err != nil {
					return err
				}
				return check(patterns, "the given patterns")
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				t, err := p.Tasks.Load(taskID)
				if err != nil {
					return err
				}
				return check(t.Allow, "task "+t.ID)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "Task id")
	cmd.Flags().StringArrayVar(&allow, "allow", nil, "Allow pattern (repeatable)")
	return cmd
}
