package handler

import (
	"net/http"

	"github.com/hartell/matrixci/internal"
	"github.com/hartell/matrixci/internal/service"

	"github.com/labstack/echo/v4"
)

// APIKeyAuth guards the API behind the trigger key header. Keys are opaque
// values minted with the admin CLI; an unknown or missing key is rejected
// without detail.
func APIKeyAuth(apiKeyService service.APIKeyServicer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.TriggerKeyHeader)
			if value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
			}
			if _, err := apiKeyService.GetAPIKeyByValue(c.Request().Context(), value); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
