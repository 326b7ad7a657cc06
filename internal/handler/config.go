package handler

import (
	"net/http"

	"github.com/hartell/matrixci/internal"

	"github.com/labstack/echo/v4"
)

func SetupConfigRoutes(g *echo.Group) {
	h := NewConfigHandler()
	configGroup := g.Group("/config")
	configGroup.GET("", h.GetConfiguration)
	configGroup.PUT("", h.PutConfiguration)
}

type ConfigHandler struct{}

func NewConfigHandler() *ConfigHandler {
	return &ConfigHandler{}
}

func (h *ConfigHandler) GetConfiguration(c echo.Context) error {
	return c.JSON(http.StatusOK, internal.Config)
}

// PutConfiguration persists a new configuration. The matrix default timeout
// applies from the next run; parallelism and build timeout from the next
// server start.
func (h *ConfigHandler) PutConfiguration(c echo.Context) error {
	config := new(internal.Configuration)
	if err := c.Bind(config); err != nil {
		return newError(err, http.StatusBadRequest, "invalid configuration data")
	}
	if config.MaxParallelJobs < 1 || config.DefaultJobTimeout <= 0 || config.BuildTimeout <= 0 {
		return newError(nil, http.StatusBadRequest, "configuration values must be positive")
	}

	if err := internal.UpdateConfiguration(config); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to update configuration")
	}
	return c.JSON(http.StatusOK, internal.Config)
}
