package main

import (
	"context"
	"log"
	"time"

	"github.com/hartell/matrixci/internal"
	"github.com/hartell/matrixci/internal/artifact"
	"github.com/hartell/matrixci/internal/handler"
	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/security"
	"github.com/hartell/matrixci/internal/service"
	"github.com/hartell/matrixci/internal/settings"
	"github.com/hartell/matrixci/internal/store"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "modernc.org/sqlite"
)

func main() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()
	settings.Settings.ReadObjectStoreEnv()
	internal.InitializeConfiguration()

	hashKey := security.HashKey()
	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	store.RunMigrations(rwdb, internal.MigrationsDir)

	runStore := store.NewRunSQLiteStore(rdb, rwdb)
	jobStore := store.NewJobSQLiteStore(rdb, rwdb)

	agentSvc := service.NewAgentService(
		store.NewAgentSQLiteStore(rdb, rwdb),
		security.NewAESEncrypter(hashKey),
		settings.Settings.Repository,
		settings.Settings.AgentName,
	)
	apiKeySvc := service.NewAPIKeyService(
		store.NewAPIKeySQLiteStore(rdb, rwdb),
		service.NewUUIDGen(),
	)

	orchestrator := service.NewOrchestrator(
		runStore,
		jobStore,
		newArtifactStore(),
		service.NewLaneController(),
		agentSvc,
		newCoverageReporter(),
		func() (*matrix.Declaration, error) {
			return matrix.Load(
				settings.Settings.MatrixPath,
				int64(time.Duration(internal.Config.DefaultJobTimeout)/time.Minute),
			)
		},
		internal.Config.MaxParallelJobs,
		time.Duration(internal.Config.BuildTimeout),
	)

	runScheduler := service.NewScheduler()
	defer func() {
		if err := runScheduler.Shutdown(); err != nil {
			log.Printf("err shutting down scheduler: %+v\n", err)
		}
	}()
	if settings.Settings.ScheduleCrontab != "" {
		if err := service.ScheduleRuns(
			runScheduler,
			orchestrator,
			settings.Settings.ScheduleCrontab,
			settings.Settings.ScheduleLane,
		); err != nil {
			log.Fatal(err)
		}
		runScheduler.Start()
	}

	e := setupEcho()
	api := e.Group("/api", handler.APIKeyAuth(apiKeySvc))
	handler.SetupRunRoutes(api, orchestrator, runStore, jobStore)
	handler.SetupAgentRoutes(api, agentSvc)
	handler.SetupAPIKeyRoutes(api, apiKeySvc)
	handler.SetupConfigRoutes(api)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func newCoverageReporter() service.CoverageReporter {
	if settings.Settings.CoverageSinkURL != "" {
		return service.NewHTTPCoverageSink(settings.Settings.CoverageSinkURL)
	}
	return service.NewFileCoverageSink("")
}

func newArtifactStore() artifact.Store {
	if settings.Settings.ObjectStoreEndpoint != "" {
		s, err := artifact.NewObjectStore(context.Background(), artifact.ObjectStoreConfig{
			Endpoint:  settings.Settings.ObjectStoreEndpoint,
			AccessKey: settings.Settings.ObjectStoreAccessKey,
			SecretKey: settings.Settings.ObjectStoreSecretKey,
			Bucket:    settings.Settings.ObjectStoreBucket,
			UseSSL:    settings.Settings.ObjectStoreUseSSL,
		})
		if err != nil {
			log.Fatal("fatal error initializing object store: ", err)
		}
		return s
	}

	s, err := artifact.NewFileStore(settings.Settings.ArtifactDir)
	if err != nil {
		log.Fatal("fatal error initializing artifact store: ", err)
	}
	return s
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.CORSWithConfig(internal.GetCORSConfig(settings.Settings.BaseURL())),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
