package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
)

type RollbackRequest struct {
	Owner core.Owner
	To    string
}

type RollbackResult struct {
	Owner    core.Owner
	Branch   string
	To       string
	Target   string
	Worktree string
	Reverted int
	Commit   string
	NoOp     bool
}

// RewriteHeadish maps HEAD, HEAD~n and HEAD^... onto branch so they
// refer to the agent branch rather than whatever the caller has checked
// out.
func RewriteHeadish(ref, branch string) string {
	if ref == "HEAD" {
		return branch
	}
	if strings.HasPrefix(ref, "HEAD~") || strings.HasPrefix(ref, "HEAD^") {
		return branch + ref[len("HEAD"):]
	}
	return ref
}

// Rollback reverts every commit on owner's branch after req.To in a
// single new commit. History is never rewritten.
func (e *Engine) Rollback(ctx context.Context, req RollbackRequest) (RollbackResult, error) {
	owner := req.Owner
	res := RollbackResult{Owner: owner, Branch: owner.Branch(), To: req.To}
	if strings.TrimSpace(req.To) == "" {
		return res, core.Invalid("rollback target", "", "must not be empty")
	}
	if !e.repo.BranchExists(ctx, res.Branch) {
		return res, core.NotFound("branch", res.Branch)
	}

	target, err := e.repo.ResolveCommit(ctx, "", RewriteHeadish(req.To, res.Branch))
	if errors.Is(err, core.ErrNotFound) {
		return res, core.Invalid("rollback target", req.To, "does not resolve to a commit")
	}
	if err != nil {
		return res, err
	}
	res.Target = target
	ok, err := e.repo.IsAncestor(ctx, target, res.Branch)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, core.Invalid("rollback target", req.To, "is not an ancestor of "+res.Branch)
	}

	var wt *trunkWorktree
	if dir, found, err := e.agentWorktree(ctx, owner); err != nil {
		return res, err
	} else if found {
		wt = &trunkWorktree{e: e, path: dir}
	} else {
		wt, err = e.tempCheckout(ctx, "rollback-"+owner.Agent+"-"+owner.Task, res.Branch)
		if err != nil {
			return res, err
		}
	}
	defer wt.release(ctx)
	res.Worktree = wt.path

	if err := e.requireClean(ctx, wt.path, fmt.Sprintf("agent worktree (%s)", owner), false); err != nil {
		return res, err
	}
	res.Reverted, err = e.repo.RevCount(ctx, wt.path, target+"..HEAD")
	if err != nil {
		return res, err
	}
	if res.Reverted == 0 {
		res.NoOp = true
		return res, nil
	}

	if _, err := e.repo.Exec(ctx, wt.path, nil, "revert", "--no-commit", target+"..HEAD"); err != nil {
		e.abortRevert(ctx, wt.path)
		rerr := &core.RevertConflictError{Branch: res.Branch, ToRef: req.To, Commit: target}
		var gerr *core.GitError
		if errors.As(err, &gerr) {
			rerr.Stderr = gerr.Stderr
		}
		return res, rerr
	}
	staged, err := e.repo.StagedFiles(ctx, wt.path)
	if err != nil {
		e.abortRevert(ctx, wt.path)
		return res, err
	}
	if len(staged) == 0 {
		// The range nets out to no change.
		e.abortRevert(ctx, wt.path)
		res.NoOp = true
		return res, nil
	}

	msg := fmt.Sprintf("Rollback %s to %s (%s)", res.Branch, req.To, target[:min(12, len(target))])
	env := git.Internal(e.workspaces.SessionEnv(owner)...)
	res.Commit, err = e.repo.Commit(ctx, wt.path, msg, env)
	if err != nil {
		e.abortRevert(ctx, wt.path)
		return res, fmt.Errorf("commit rollback: %w", err)
	}
	e.logger.Info("rollback committed", "owner", owner.String(), "to", req.To, "reverted", res.Reverted, "commit", res.Commit)

	files, err := e.repo.ChangeSummary(ctx, wt.path, res.Commit)
	if err != nil {
		e.logger.Warn("summarize rollback", "commit", res.Commit, "err", err)
	}
	if _, err := e.journal.Append(core.JournalEntry{
		Commit: res.Commit,
		Agent:  owner.Agent,
		Task:   owner.Task,
		Files:  files,
		Kind:   core.JournalRollback,
	}); err != nil {
		return res, fmt.Errorf("journal rollback: %w", err)
	}
	return res, nil
}

func (e *Engine) abortRevert(ctx context.Context, dir string) {
	if _, err := e.repo.Exec(ctx, dir, nil, "revert", "--abort"); err == nil {
		return
	}
	if _, err := e.repo.Exec(ctx, dir, nil, "reset", "--hard", "HEAD"); err != nil {
		e.logger.Error("restore worktree after revert", "dir", dir, "err", err)
	}
}
