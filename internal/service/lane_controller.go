package service

import (
	"context"
	"sync"

	"github.com/hartell/matrixci/internal/store"
)

type AdmissionDecision struct {
	// SupersededRunID is set when admitting this run cancelled a previous
	// run on the same lane.
	SupersededRunID *int64
}

type laneEntry struct {
	runID             int64
	cancelOnSupersede bool
	cancel            context.CancelFunc
}

// LaneController enforces at most one active run per lane. Admission is
// latest-wins: a newer run always takes the lane, and the previous holder is
// cancelled when its policy allows. The lane table is the only state shared
// across runs.
type LaneController struct {
	m     sync.Mutex
	lanes map[string]*laneEntry
}

func NewLaneController() *LaneController {
	return &LaneController{
		lanes: make(map[string]*laneEntry),
	}
}

// Admit registers the run as the lane's active run. The cancel func must
// cancel the run's context; it is invoked under the lane lock so two runs can
// never both believe they hold the same lane.
func (lc *LaneController) Admit(run *store.Run, cancel context.CancelFunc) AdmissionDecision {
	lc.m.Lock()
	defer lc.m.Unlock()

	decision := AdmissionDecision{}
	if prev, ok := lc.lanes[run.Lane]; ok {
		if prev.cancelOnSupersede {
			prev.cancel()
			decision.SupersededRunID = &prev.runID
		}
	}
	lc.lanes[run.Lane] = &laneEntry{
		runID:             run.RunID,
		cancelOnSupersede: run.CancelOnSupersede,
		cancel:            cancel,
	}
	return decision
}

// Release clears the lane, but only if the run still holds it. A superseded
// run releasing late must not evict its successor.
func (lc *LaneController) Release(run *store.Run) {
	lc.m.Lock()
	defer lc.m.Unlock()

	if entry, ok := lc.lanes[run.Lane]; ok && entry.runID == run.RunID {
		delete(lc.lanes, run.Lane)
	}
}

// ActiveRun reports the run currently holding the lane.
func (lc *LaneController) ActiveRun(lane string) (int64, bool) {
	lc.m.Lock()
	defer lc.m.Unlock()

	entry, ok := lc.lanes[lane]
	if !ok {
		return 0, false
	}
	return entry.runID, true
}

// CancelRun cancels the run holding the lane regardless of policy. Used for
// explicit user-requested cancellation.
func (lc *LaneController) CancelRun(runID int64) bool {
	lc.m.Lock()
	defer lc.m.Unlock()

	for _, entry := range lc.lanes {
		if entry.runID == runID {
			entry.cancel()
			return true
		}
	}
	return false
}
