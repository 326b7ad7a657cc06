package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/security"
	"github.com/hartell/matrixci/internal/store"
	"golang.org/x/crypto/ssh"
)

type AgentServicer interface {
	CreateAgent(
		ctx context.Context,
		name, hostname, workspace, username, description, sshPrivateKey string,
	) (*store.Agent, error)
	GetAgentByID(context.Context, int64) (*store.Agent, error)
	GetAgentByName(context.Context, string) (*store.Agent, error)
	ListAgents(context.Context) ([]*store.Agent, error)
	UpdateAgent(
		ctx context.Context,
		agentID int64,
		name, hostname, workspace, username, description string,
	) error
	DeleteAgent(context.Context, int64) error

	TestAgentConnection(context.Context, int64) error
}

type AgentService struct {
	agentStore store.AgentStore
	encrypter  security.Encrypter

	// repository cloned into every run's working directory on the agent
	repository string
	// name of the agent runs execute on
	agentName string
}

func NewAgentService(
	s store.AgentStore,
	encrypter security.Encrypter,
	repository, agentName string,
) *AgentService {
	return &AgentService{
		agentStore: s,
		encrypter:  encrypter,
		repository: repository,
		agentName:  agentName,
	}
}

func (s *AgentService) CreateAgent(
	ctx context.Context,
	name, hostname, workspace, username, description, sshPrivateKey string,
) (*store.Agent, error) {
	hash := s.encrypter.EncryptAES(sshPrivateKey)
	return s.agentStore.CreateAgent(
		ctx,
		name,
		hostname,
		workspace,
		username,
		description,
		hash,
	)
}

func (s *AgentService) GetAgentByID(ctx context.Context, agentID int64) (*store.Agent, error) {
	return s.readAndDecrypt(func() (*store.Agent, error) {
		return s.agentStore.ReadAgentByID(ctx, agentID)
	})
}

func (s *AgentService) GetAgentByName(ctx context.Context, name string) (*store.Agent, error) {
	return s.readAndDecrypt(func() (*store.Agent, error) {
		return s.agentStore.ReadAgentByName(ctx, name)
	})
}

func (s *AgentService) readAndDecrypt(read func() (*store.Agent, error)) (*store.Agent, error) {
	a, err := read()
	if err != nil {
		return nil, err
	}
	key, err := s.encrypter.DecryptAES(a.SSHPrivateKeyHash)
	if err != nil {
		return nil, err
	}
	a.SSHPrivateKey = key
	return a, nil
}

func (s *AgentService) ListAgents(ctx context.Context) ([]*store.Agent, error) {
	return s.agentStore.ListAgents(ctx)
}

func (s *AgentService) UpdateAgent(
	ctx context.Context,
	agentID int64,
	name, hostname, workspace, username, description string,
) error {
	return s.agentStore.UpdateAgent(
		ctx, agentID, name, hostname, workspace, username, description,
	)
}

func (s *AgentService) DeleteAgent(ctx context.Context, agentID int64) error {
	return s.agentStore.DeleteAgent(ctx, agentID)
}

func (s *AgentService) TestAgentConnection(ctx context.Context, agentID int64) error {
	a, err := s.GetAgentByID(ctx, agentID)
	if err != nil {
		return err
	}
	client, err := connectSSH(a.Username, a.Hostname, a.SSHPrivateKey)
	if err != nil {
		return err
	}
	defer client.Close()
	_, _, err = runCommand(ctx, client, "echo connection ok", 10*time.Second)
	return err
}

// Dial prepares the run's sandbox: connect to the agent, create the working
// directory and clone the lane's branch into it.
func (s *AgentService) Dial(
	ctx context.Context,
	run *store.Run,
	decl *matrix.Declaration,
	output chan<- string,
) (Sandbox, error) {
	a, err := s.GetAgentByName(ctx, s.agentName)
	if err != nil {
		return nil, err
	}

	client, err := connectSSH(a.Username, a.Hostname, a.SSHPrivateKey)
	if err != nil {
		return nil, err
	}
	output <- fmt.Sprintf("SSH connected to %s\n", a.Hostname)

	workdir := *run.WorkingDirectory
	if err := cloneRepository(
		ctx, client, s.repository, a.Workspace, workdir, run.Lane,
	); err != nil {
		client.Close()
		return nil, err
	}
	output <- fmt.Sprintf("Cloned repository %s\n", s.repository)

	return &agentSandbox{
		client:     client,
		workspace:  a.Workspace,
		workdir:    workdir,
		repository: s.repository,
		decl:       decl,
		output:     output,
	}, nil
}

func cloneRepository(
	ctx context.Context,
	client *ssh.Client,
	repository, workspace, workdir, branch string,
) error {
	if _, _, err := runCommand(
		ctx,
		client,
		fmt.Sprintf("mkdir -p %s/%s", workspace, workdir),
		5*time.Second,
	); err != nil {
		return err
	}
	if _, _, err := runCommand(
		ctx,
		client,
		fmt.Sprintf("cd %s && cd %s && git clone -b %s %s", workspace, workdir, branch, repository),
		60*time.Second,
	); err != nil {
		return err
	}
	return nil
}
