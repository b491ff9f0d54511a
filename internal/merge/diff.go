package merge

import (
	"context"
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/journal"
)

// TaskDiff is the change a task's branch makes relative to its merge
// base with the default base ref.
type TaskDiff struct {
	Owner     core.Owner
	Base      string
	Target    string
	MergeBase string
	Patch     string
	Stats     []FileStat
}

type FileStat struct {
	Path    string
	Added   int
	Deleted int
}

// Diff returns one TaskDiff per task of agent, or only for task when
// set. A merged task whose branch is gone is diffed at its last
// journaled commit.
func (e *Engine) Diff(ctx context.Context, agent, task string) ([]TaskDiff, error) {
	ids := []string{task}
	if task == "" {
		var err error
		ids, err = e.workspaces.Tasks(ctx, agent)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, core.NotFound("task for agent", agent)
		}
	}

	base := e.repo.DefaultBaseRef(ctx)
	var out []TaskDiff
	for _, id := range ids {
		owner, err := core.NewOwner(agent, id)
		if err != nil {
			return nil, err
		}
		d := TaskDiff{Owner: owner, Base: base}
		d.Target, err = e.diffTarget(ctx, owner)
		if err != nil {
			return nil, err
		}
		d.MergeBase, err = e.repo.MergeBase(ctx, base, d.Target)
		if err != nil {
			return nil, fmt.Errorf("find merge base for %s: %w", owner, err)
		}
		d.Patch, err = e.repo.Diff(ctx, d.MergeBase, d.Target)
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", owner, err)
		}
		d.Stats, err = DiffStat(d.Patch)
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", owner, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (e *Engine) diffTarget(ctx context.Context, owner core.Owner) (string, error) {
	if e.repo.BranchExists(ctx, owner.Branch()) {
		return owner.Branch(), nil
	}
	last, ok, err := e.journal.Last(journal.Filter{Agent: owner.Agent, Task: owner.Task})
	if err != nil {
		return "", err
	}
	if !ok || last.Commit == "" {
		return "", core.NotFound("branch", owner.Branch())
	}
	return last.Commit, nil
}

// DiffStat counts added and deleted lines per file in a unified diff.
func DiffStat(patch string) ([]FileStat, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, nil
	}
	fds, err := godiff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	stats := make([]FileStat, 0, len(fds))
	for _, fd := range fds {
		if fd == nil {
			continue
		}
		s := fd.Stat()
		stats = append(stats, FileStat{
			Path:    diffPath(fd),
			Added:   int(s.Added + s.Changed),
			Deleted: int(s.Deleted + s.Changed),
		})
	}
	return stats, nil
}

func diffPath(fd *godiff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "b/")
	return strings.TrimPrefix(name, "a/")
}
