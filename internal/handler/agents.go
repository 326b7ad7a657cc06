package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/hartell/matrixci/internal/service"

	"github.com/labstack/echo/v4"
)

func SetupAgentRoutes(g *echo.Group, agentService service.AgentServicer) {
	h := NewAgentHandler(agentService)
	agentsGroup := g.Group("/agents")
	agentsGroup.GET("", h.GetAgents)
	agentsGroup.POST("", h.PostAgent)
	agentsGroup.GET("/:agent_id", h.GetAgent)
	agentsGroup.DELETE("/:agent_id", h.DeleteAgent)
	agentsGroup.POST("/:agent_id/test-connection", h.PostTestAgentConnection)
}

type AgentHandler struct {
	agentService service.AgentServicer
}

func NewAgentHandler(agentService service.AgentServicer) *AgentHandler {
	return &AgentHandler{agentService}
}

func (h *AgentHandler) GetAgents(c echo.Context) error {
	agents, err := h.agentService.ListAgents(c.Request().Context())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusInternalServerError, "unable to list agents")
	}
	return c.JSON(http.StatusOK, echo.Map{"agents": agents})
}

func (h *AgentHandler) PostAgent(c echo.Context) error {
	ap := new(AgentParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid agent data")
	}
	if ap.Name == "" || ap.Hostname == "" || ap.Workspace == "" ||
		ap.Username == "" || ap.SSHPrivateKey == "" {
		return newError(nil, http.StatusBadRequest, "missing required agent fields")
	}

	agent, err := h.agentService.CreateAgent(
		c.Request().Context(),
		ap.Name, ap.Hostname, ap.Workspace,
		ap.Username, ap.Description, ap.SSHPrivateKey,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return newError(err, http.StatusConflict, "an agent with that name already exists")
		}
		return newError(err, http.StatusInternalServerError, "unable to create agent")
	}
	return c.JSON(http.StatusCreated, agent)
}

func (h *AgentHandler) GetAgent(c echo.Context) error {
	ap := new(AgentParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid agent data")
	}

	agent, err := h.agentService.GetAgentByID(c.Request().Context(), ap.AgentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "agent not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read agent data")
	}
	return c.JSON(http.StatusOK, agent)
}

func (h *AgentHandler) DeleteAgent(c echo.Context) error {
	ap := new(AgentParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid agent data")
	}

	if err := h.agentService.DeleteAgent(c.Request().Context(), ap.AgentID); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to delete agent")
	}
	return c.NoContent(http.StatusOK)
}

func (h *AgentHandler) PostTestAgentConnection(c echo.Context) error {
	ap := new(AgentParams)
	if err := c.Bind(ap); err != nil {
		return newError(err, http.StatusBadRequest, "invalid agent data")
	}

	if err := h.agentService.TestAgentConnection(c.Request().Context(), ap.AgentID); err != nil {
		return newError(err, http.StatusBadGateway, "unable to connect to the agent")
	}
	return c.NoContent(http.StatusOK)
}
