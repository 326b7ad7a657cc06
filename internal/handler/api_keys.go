package handler

import (
	"net/http"

	"github.com/hartell/matrixci/internal/service"

	"github.com/labstack/echo/v4"
)

func SetupAPIKeyRoutes(g *echo.Group, apiKeyService service.APIKeyServicer) {
	h := NewAPIKeyHandler(apiKeyService)
	apiKeysGroup := g.Group("/api-keys")
	apiKeysGroup.POST("", h.PostAPIKey)
	apiKeysGroup.DELETE("/:id", h.DeleteAPIKey)
}

type APIKeyHandler struct {
	apiKeyService service.APIKeyServicer
}

func NewAPIKeyHandler(apiKeyService service.APIKeyServicer) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService}
}

func (h *APIKeyHandler) PostAPIKey(c echo.Context) error {
	ak, err := h.apiKeyService.CreateAPIKey(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to create api key")
	}
	return c.JSON(http.StatusCreated, ak)
}

func (h *APIKeyHandler) DeleteAPIKey(c echo.Context) error {
	akp := new(APIKeyParams)
	if err := c.Bind(akp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid api key data")
	}

	if err := h.apiKeyService.DeleteAPIKey(c.Request().Context(), akp.ID); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to delete api key")
	}
	return c.NoContent(http.StatusOK)
}
