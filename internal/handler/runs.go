package handler

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/hartell/matrixci/internal/service"
	"github.com/hartell/matrixci/internal/store"

	"github.com/labstack/echo/v4"
)

const maxRunsPerPage int64 = 10

// RunOrchestrator is the handler's view of the run pipeline: fire a trigger,
// reach the lane controller for cancellation.
type RunOrchestrator interface {
	Execute(trigger service.Trigger) (*store.Run, error)
	Lanes() *service.LaneController
}

func SetupRunRoutes(
	g *echo.Group,
	orchestrator RunOrchestrator,
	runStore store.RunStore,
	jobStore store.JobStore,
) {
	h := NewRunHandler(orchestrator, runStore, jobStore)
	g.POST("/lanes/:lane/trigger", h.PostTriggerRun)
	g.GET("/lanes/:lane/runs", h.GetLaneRuns)
	g.GET("/runs", h.GetRuns)
	g.GET("/runs/:run_id", h.GetRun)
	g.GET("/runs/:run_id/jobs", h.GetRunJobs)
	g.GET("/runs/:run_id/output", h.GetRunOutput)
	g.POST("/runs/:run_id/cancel", h.PostCancelRun)
	g.DELETE("/runs/:run_id", h.DeleteRun)
}

type RunHandler struct {
	orchestrator RunOrchestrator
	runStore     store.RunStore
	jobStore     store.JobStore
}

func NewRunHandler(
	orchestrator RunOrchestrator,
	runStore store.RunStore,
	jobStore store.JobStore,
) *RunHandler {
	return &RunHandler{orchestrator, runStore, jobStore}
}

// PostTriggerRun starts a run for the lane and returns immediately; the run
// proceeds in the background and its progress is read back over the runs
// endpoints. A newer trigger on the same lane supersedes the one in flight.
func (h *RunHandler) PostTriggerRun(c echo.Context) error {
	tp := new(TriggerParams)
	if err := c.Bind(tp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid trigger data")
	}
	// POST bodies are optional for webhook callers; the kind may also arrive
	// as a query parameter
	if tp.Kind == "" {
		tp.Kind = c.QueryParam("kind")
	}

	kind, err := parseTriggerKind(tp.Kind)
	if err != nil {
		return newError(err, http.StatusBadRequest, "unknown trigger kind")
	}
	trigger := service.Trigger{Lane: tp.Lane, Kind: kind}
	if !service.ShouldAdmit(trigger) {
		return newError(nil, http.StatusBadRequest, "invalid trigger data")
	}

	go func() {
		if _, err := h.orchestrator.Execute(trigger); err != nil {
			log.Printf("err executing run on lane '%s': %+v\n", trigger.Lane, err)
		}
	}()

	return c.NoContent(http.StatusAccepted)
}

func parseTriggerKind(kind string) (store.TriggerKind, error) {
	switch store.TriggerKind(kind) {
	case store.TriggerPullRequest:
		return store.TriggerPullRequest, nil
	case store.TriggerPush:
		return store.TriggerPush, nil
	case store.TriggerManual, store.TriggerKind(""):
		return store.TriggerManual, nil
	default:
		return "", errors.New("unknown trigger kind: " + kind)
	}
}

func (h *RunHandler) GetRuns(c echo.Context) error {
	lp := new(ListRunsParams)
	if err := c.Bind(lp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pagination data")
	}
	if lp.Page < 1 {
		lp.Page = 1
	}

	runs, err := h.runStore.ListRunsPaginated(
		c.Request().Context(), maxRunsPerPage, (lp.Page-1)*maxRunsPerPage,
	)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusInternalServerError, "unable to list runs")
	}
	count, err := h.runStore.CountRuns(c.Request().Context())
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to count runs")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"runs":  runs,
		"page":  lp.Page,
		"pages": (count + maxRunsPerPage - 1) / maxRunsPerPage,
	})
}

func (h *RunHandler) GetLaneRuns(c echo.Context) error {
	lane := c.Param("lane")
	runs, err := h.runStore.ListLaneRuns(c.Request().Context(), lane)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusInternalServerError, "unable to list lane runs")
	}
	return c.JSON(http.StatusOK, echo.Map{"runs": runs})
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	run, err := h.runStore.ReadRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run data")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunHandler) GetRunJobs(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	jobs, err := h.jobStore.ListRunJobs(c.Request().Context(), rp.RunID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return newError(err, http.StatusInternalServerError, "unable to list run jobs")
	}
	return c.JSON(http.StatusOK, echo.Map{"jobs": jobs})
}

func (h *RunHandler) GetRunOutput(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	run, err := h.runStore.ReadRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run output")
	}

	output := ""
	if run.Output != nil {
		output = *run.Output
	}
	return c.String(http.StatusOK, output)
}

func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	if !h.orchestrator.Lanes().CancelRun(rp.RunID) {
		return newError(nil, http.StatusConflict, "run is not in progress")
	}
	return c.NoContent(http.StatusOK)
}

func (h *RunHandler) DeleteRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run data")
	}

	run, err := h.runStore.ReadRunByID(c.Request().Context(), rp.RunID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "run not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read run data")
	}
	if run.Status == store.StatusPending || run.Status == store.StatusRunning {
		return newError(nil, http.StatusConflict, "run is still in progress")
	}

	if err := h.runStore.DeleteRun(c.Request().Context(), rp.RunID); err != nil {
		return newError(err, http.StatusInternalServerError, "unable to delete run")
	}
	return c.NoContent(http.StatusOK)
}
