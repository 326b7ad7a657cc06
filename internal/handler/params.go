package handler

type TriggerParams struct {
	Lane string `param:"lane" json:"lane"`
	Kind string `query:"kind" json:"kind"`
}

type RunParams struct {
	RunID int64 `param:"run_id"`
}

type ListRunsParams struct {
	Lane string `query:"lane"`
	Page int64  `query:"page"`
}

type AgentParams struct {
	AgentID       int64  `param:"agent_id"`
	Name          string `json:"name"`
	Hostname      string `json:"hostname"`
	Workspace     string `json:"workspace"`
	Username      string `json:"username"`
	Description   string `json:"description"`
	SSHPrivateKey string `json:"ssh_private_key"`
}

type APIKeyParams struct {
	ID int64 `param:"id"`
}
