package core

// Environment variables set in agent sessions and read by the commit hooks.
const (
	EnvAgentID   = "AGENT_ID"
	EnvTaskID    = "TASK_ID"
	EnvTaskFile  = "HYDRA_TASK_FILE"
	EnvSkipHooks = "HYDRA_SKIP_HOOKS"
)
