package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/project"
)

func (a *app) initCmd() *cobra.Command {
	var (
		sessionName  string
		installHooks bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize hydra in the current repository",
		Long: `Initialize hydra in the current repository.

Creates .hydra/, .agents/ and tasks/, writes .hydra/config.yaml, and keeps
.hydra/ and .agents/ out of git status through .git/info/exclude. Running
it again keeps the existing config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			layout, err := project.Layout(ctx, a.dir)
			if err != nil {
				return err
			}
			res, err := config.Init(layout, sessionName)
			if err != nil {
				return err
			}
			verb := "Reinitialized"
			if res.CreatedConfig {
				verb = "Initialized"
			}
			a.printf("%s hydra in %s\n", verb, layout.Root)
			a.printf("  session: %s\n", res.Config.Session)
			for _, p := range res.Excluded {
				a.printf("  excluded %s\n", p)
			}
			if !installHooks {
				return nil
			}
			return a.withProject(cmd, func(ctx context.Context, p *project.Project) error {
				return a.install(ctx, p)
			})
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Shared session name (default: repository directory name)")
	cmd.Flags().BoolVar(&installHooks, "hooks", false, "Also install the git hooks")
	return cmd
}

func (a *app) install(ctx context.Context, p *project.Project) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate hydra binary: %w", err)
	}
	res, err := p.Hooks.Install(ctx, exe)
	if err != nil {
		return err
	}
	for _, b := range res.Backups {
		a.warn("existing hook moved to %s", b)
	}
	a.printf("Installed hooks %v in %s\n", res.Hooks, res.Dir)
	return nil
}
