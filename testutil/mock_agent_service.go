package testutil

import (
	"context"

	"github.com/hartell/matrixci/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockAgentService struct {
	mock.Mock
}

func (m *MockAgentService) CreateAgent(
	ctx context.Context,
	name, hostname, workspace, username, description, sshPrivateKey string,
) (*store.Agent, error) {
	args := m.Called(ctx, name, hostname, workspace, username, description, sshPrivateKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Agent), args.Error(1)
}

func (m *MockAgentService) GetAgentByID(
	ctx context.Context,
	id int64,
) (*store.Agent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Agent), args.Error(1)
}

func (m *MockAgentService) GetAgentByName(
	ctx context.Context,
	name string,
) (*store.Agent, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Agent), args.Error(1)
}

func (m *MockAgentService) ListAgents(ctx context.Context) ([]*store.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*store.Agent), args.Error(1)
}

func (m *MockAgentService) UpdateAgent(
	ctx context.Context,
	agentID int64,
	name, hostname, workspace, username, description string,
) error {
	args := m.Called(ctx, agentID, name, hostname, workspace, username, description)
	return args.Error(0)
}

func (m *MockAgentService) DeleteAgent(ctx context.Context, agentID int64) error {
	args := m.Called(ctx, agentID)
	return args.Error(0)
}

func (m *MockAgentService) TestAgentConnection(ctx context.Context, agentID int64) error {
	args := m.Called(ctx, agentID)
	return args.Error(0)
}
