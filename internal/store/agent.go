package store

import "context"

// Agent is a machine builds and jobs execute on, reached over SSH. The
// private key is stored AES-encrypted; the decrypted bytes only live on the
// in-memory struct.
type Agent struct {
	AgentID           int64  `param:"agent_id" json:"agent_id"`
	Name              string `json:"name"`
	Hostname          string `json:"hostname"`
	Workspace         string `json:"workspace"`
	Username          string `json:"username"`
	Description       string `json:"description"`
	SSHPrivateKeyHash string `json:"-"`

	SSHPrivateKey []byte `json:"-"`
}

type AgentStore interface {
	CreateAgent(context.Context, string, string, string, string, string, string) (*Agent, error)
	ReadAgentByID(context.Context, int64) (*Agent, error)
	ReadAgentByName(context.Context, string) (*Agent, error)
	UpdateAgent(context.Context, int64, string, string, string, string, string) error
	DeleteAgent(context.Context, int64) error
	ListAgents(context.Context) ([]*Agent, error)
}
