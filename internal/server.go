package internal

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// GracefulShutdown serves until SIGINT/SIGTERM, then drains in-flight
// requests before returning. Runs already in flight keep going until their
// own contexts resolve.
func GracefulShutdown(e *echo.Echo, port string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(port); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Fatal(err)
	}
}

func GetCORSConfig(baseURL string) middleware.CORSConfig {
	return middleware.CORSConfig{
		AllowOrigins: []string{baseURL},
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete,
		},
		AllowHeaders: []string{
			echo.HeaderContentType, TriggerKeyHeader,
		},
	}
}

func GetRateLimiterConfig() middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(20),
				Burst:     50,
				ExpiresIn: 3 * time.Minute,
			},
		),
	}
}
