package workspace

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/journal"
)

// List reports every workspace known from .agents/<agent>/<task>
// directories or agent/<agent>/<task> branches, orphans included.
func (m *Manager) List(ctx context.Context) ([]State, error) {
	seen := make(map[core.Owner]bool)

	agents, err := os.ReadDir(m.layout.AgentsDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}
	for _, a := range agents {
		if !a.IsDir() {
			continue
		}
		taskDirs, err := os.ReadDir(m.layout.WorkspaceDir(a.Name(), ""))
		if err != nil {
			continue
		}
		for _, t := range taskDirs {
			if t.IsDir() || t.Type()&os.ModeSymlink != 0 {
				seen[core.Owner{Agent: a.Name(), Task: t.Name()}] = true
			}
		}
	}

	branches, err := m.repo.Branches(ctx, "agent/*/*")
	if err != nil {
		return nil, fmt.Errorf("list agent branches: %w", err)
	}
	for _, b := range branches {
		if owner, ok := ParseBranch(b); ok {
			seen[owner] = true
		}
	}

	owners := make([]core.Owner, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool {
		if owners[i].Agent != owners[j].Agent {
			return owners[i].Agent < owners[j].Agent
		}
		return owners[i].Task < owners[j].Task
	})
	states := make([]State, 0, len(owners))
	for _, o := range owners {
		states = append(states, m.State(ctx, o))
	}
	return states, nil
}

// ParseBranch splits agent/<agent>/<task> into its owner.
func ParseBranch(branch string) (core.Owner, bool) {
	parts := strings.SplitN(branch, "/", 3)
	if len(parts) != 3 || parts[0] != "agent" || parts[1] == "" || parts[2] == "" {
		return core.Owner{}, false
	}
	return core.Owner{Agent: parts[1], Task: parts[2]}, true
}

// Tasks lists the tasks agent has worked on. Branches are consulted
// first; when there are none, workspace directories, then the journal.
func (m *Manager) Tasks(ctx context.Context, agent string) ([]string, error) {
	if err := core.ValidateAgent(agent); err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	branches, err := m.repo.Branches(ctx, "agent/"+agent+"/*")
	if err != nil {
		return nil, fmt.Errorf("list agent branches: %w", err)
	}
	for _, b := range branches {
		if owner, ok := ParseBranch(b); ok && owner.Agent == agent && core.IsTaskID(owner.Task) {
			found[owner.Task] = true
		}
	}

	if len(found) == 0 {
		if entries, err := os.ReadDir(m.layout.WorkspaceDir(agent, "")); err == nil {
			for _, e := range entries {
				if e.IsDir() && core.IsTaskID(e.Name()) {
					found[e.Name()] = true
				}
			}
		}
	}

	if len(found) == 0 && m.journal != nil {
		entries, _, err := m.journal.Read(journal.Filter{Agent: agent})
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if core.IsTaskID(e.Task) {
				found[e.Task] = true
			}
		}
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ResolveTask returns the single task agent is working on and fails
// when there are none or several.
func (m *Manager) ResolveTask(ctx context.Context, agent string) (string, error) {
	ids, err := m.Tasks(ctx, agent)
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", core.NotFound("task for agent", agent)
	case 1:
		return ids[0], nil
	}
	return "", core.Invalid("task", "", fmt.Sprintf("multiple tasks found for %s; pass --task (found: %s)", agent, strings.Join(ids, ", ")))
}

// Owner resolves agent plus an optional task id into an owner.
func (m *Manager) Owner(ctx context.Context, agent, task string) (core.Owner, error) {
	if task == "" {
		var err error
		if task, err = m.ResolveTask(ctx, agent); err != nil {
			return core.Owner{}, err
		}
	}
	return core.NewOwner(agent, task)
}
