package core

import (
	"regexp"
	"strings"
)

var (
	taskIDPattern    = regexp.MustCompile(`^t[0-9]+$`)
	agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateTaskID accepts ids like t3005 or t1737123456.
func ValidateTaskID(id string) error {
	if !taskIDPattern.MatchString(id) {
		return Invalid("task id", id, "expected t<digits>, like t3005 or t1737123456")
	}
	return nil
}

// IsTaskID reports whether s has the task id shape.
func IsTaskID(s string) bool {
	return taskIDPattern.MatchString(s)
}

// ValidateAgent checks that name is usable as a branch path component.
func ValidateAgent(name string) error {
	switch {
	case name == "":
		return Invalid("agent name", name, "must be non-empty")
	case strings.Contains(name, "/"):
		return Invalid("agent name", name, "must not contain '/'")
	case strings.HasPrefix(name, ".") || strings.HasSuffix(name, "."):
		return Invalid("agent name", name, "must not start or end with '.'")
	case strings.Contains(name, ".."):
		return Invalid("agent name", name, "must not contain '..'")
	case !agentNamePattern.MatchString(name):
		return Invalid("agent name", name, "only letters, digits, '.', '_' and '-' are allowed")
	}
	return nil
}

// NewOwner validates both halves of an owner.
func NewOwner(agent, task string) (Owner, error) {
	if err := ValidateAgent(agent); err != nil {
		return Owner{}, err
	}
	if err := ValidateTaskID(task); err != nil {
		return Owner{}, err
	}
	return Owner{Agent: agent, Task: task}, nil
}
