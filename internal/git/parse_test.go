package git

import (
	"reflect"
	"testing"
)

func TestParseWorktrees(t *testing.T) {
	out := "worktree /repo\nHEAD abc\nbranch refs/heads/main\n\n" +
		"worktree /repo/.agents/a/t1\nHEAD def\nbranch refs/heads/agent/a/t1\n\n" +
		"worktree /tmp/x\nHEAD 123\ndetached\n"
	got := parseWorktrees(out)
	want := []Worktree{
		{Path: "/repo", Head: "abc", Branch: "main"},
		{Path: "/repo/.agents/a/t1", Head: "def", Branch: "agent/a/t1"},
		{Path: "/tmp/x", Head: "123", Detached: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseWorktrees = %+v", got)
	}
}

func TestParseStatusZ(t *testing.T) {
	out := " M a.go\x00R  new.go\x00old.go\x00?? untracked.txt\x00UU both.go\x00"
	got := parseStatusZ(out)
	if len(got) != 4 {
		t.Fatalf("entries = %+v", got)
	}
	if got[1].Path != "new.go" || got[1].OrigPath != "old.go" {
		t.Fatalf("rename = %+v", got[1])
	}
	if !got[2].Untracked() || !got[3].Unmerged() || got[0].Unmerged() {
		t.Fatalf("classification wrong: %+v", got)
	}
}
