package core

import "time"

// Owner identifies the (agent, task) pair that holds locks and workspaces.
type Owner struct {
	Agent string
	Task  string
}

func (o Owner) String() string {
	return o.Agent + "/" + o.Task
}

// Branch returns the dedicated branch name for the owner's workspace.
func (o Owner) Branch() string {
	return "agent/" + o.Agent + "/" + o.Task
}

// Task is a unit of work restricted to the paths matched by Allow.
type Task struct {
	ID      string
	Title   string
	Allow   []string
	Created time.Time
}

// Lock is an exclusive claim on one repository-relative path.
type Lock struct {
	File     string
	Owner    Owner
	LockedAt time.Time
	Session  string
}

// LockConflict names a requested path and the owner currently holding it.
type LockConflict struct {
	File   string `json:"file"`
	Holder Owner  `json:"holder"`
}

// Workspace is an isolated worktree bound to one owner and one branch.
type Workspace struct {
	Owner  Owner
	Path   string
	Branch string
}

type JournalKind string

const (
	JournalSnapshot JournalKind = "snapshot"
	JournalMerge    JournalKind = "merge"
	JournalRollback JournalKind = "rollback"
	JournalCommit   JournalKind = "commit"
)

// JournalEntry records one commit produced through hydra.
// Index is the line position in the journal file and breaks timestamp ties.
type JournalEntry struct {
	ID     string
	Time   time.Time
	Commit string
	Agent  string
	Task   string
	Files  string
	Kind   JournalKind
	Index  int
}
