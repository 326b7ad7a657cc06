package service

import "github.com/hartell/matrixci/internal/store"

// Trigger is the metadata a trigger source supplies when it wants a run.
type Trigger struct {
	Lane string
	Kind store.TriggerKind
}

// CancelOnSupersede resolves the supersession policy from the trigger kind.
// Only pull request lanes are superseded by a newer run; every other kind
// lets in-flight work finish.
func CancelOnSupersede(kind store.TriggerKind) bool {
	return kind == store.TriggerPullRequest
}

// ShouldAdmit is the gate evaluated before a run is even created.
func ShouldAdmit(t Trigger) bool {
	if t.Lane == "" {
		return false
	}
	switch t.Kind {
	case store.TriggerPullRequest, store.TriggerPush, store.TriggerSchedule, store.TriggerManual:
		return true
	default:
		return false
	}
}
