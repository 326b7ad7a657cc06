package service

import (
	"context"
	"testing"

	"github.com/hartell/matrixci/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestLaneController_Admit(t *testing.T) {
	t.Run("success - first run takes the lane without superseding", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		run := &store.Run{RunID: 1, Lane: "feature-x", CancelOnSupersede: true}
		_, cancel := context.WithCancel(context.Background())
		defer cancel()

		// act
		decision := lc.Admit(run, cancel)

		// assert
		assert.Nil(t, decision.SupersededRunID)
		active, ok := lc.ActiveRun("feature-x")
		assert.True(t, ok)
		assert.Equal(t, int64(1), active)
	})

	t.Run("success - newer run cancels a pull request run on the same lane", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		first := &store.Run{RunID: 1, Lane: "feature-x", CancelOnSupersede: true}
		firstCtx, firstCancel := context.WithCancel(context.Background())
		lc.Admit(first, firstCancel)

		second := &store.Run{RunID: 2, Lane: "feature-x", CancelOnSupersede: true}
		_, secondCancel := context.WithCancel(context.Background())
		defer secondCancel()

		// act
		decision := lc.Admit(second, secondCancel)

		// assert
		assert.NotNil(t, decision.SupersededRunID)
		assert.Equal(t, int64(1), *decision.SupersededRunID)
		assert.Error(t, firstCtx.Err())
		active, ok := lc.ActiveRun("feature-x")
		assert.True(t, ok)
		assert.Equal(t, int64(2), active)
	})

	t.Run("success - push runs are never cancelled by a successor", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		first := &store.Run{RunID: 1, Lane: "main", CancelOnSupersede: false}
		firstCtx, firstCancel := context.WithCancel(context.Background())
		defer firstCancel()
		lc.Admit(first, firstCancel)

		second := &store.Run{RunID: 2, Lane: "main", CancelOnSupersede: false}
		_, secondCancel := context.WithCancel(context.Background())
		defer secondCancel()

		// act
		decision := lc.Admit(second, secondCancel)

		// assert
		assert.Nil(t, decision.SupersededRunID)
		assert.NoError(t, firstCtx.Err())
	})

	t.Run("success - runs on different lanes never interact", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		first := &store.Run{RunID: 1, Lane: "feature-x", CancelOnSupersede: true}
		firstCtx, firstCancel := context.WithCancel(context.Background())
		defer firstCancel()
		lc.Admit(first, firstCancel)

		second := &store.Run{RunID: 2, Lane: "feature-y", CancelOnSupersede: true}
		_, secondCancel := context.WithCancel(context.Background())
		defer secondCancel()

		// act
		decision := lc.Admit(second, secondCancel)

		// assert
		assert.Nil(t, decision.SupersededRunID)
		assert.NoError(t, firstCtx.Err())
	})
}

func TestLaneController_Release(t *testing.T) {
	t.Run("success - superseded run releasing late does not evict successor", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		first := &store.Run{RunID: 1, Lane: "feature-x", CancelOnSupersede: true}
		_, firstCancel := context.WithCancel(context.Background())
		lc.Admit(first, firstCancel)
		second := &store.Run{RunID: 2, Lane: "feature-x", CancelOnSupersede: true}
		_, secondCancel := context.WithCancel(context.Background())
		defer secondCancel()
		lc.Admit(second, secondCancel)

		// act
		lc.Release(first)

		// assert
		active, ok := lc.ActiveRun("feature-x")
		assert.True(t, ok)
		assert.Equal(t, int64(2), active)

		lc.Release(second)
		_, ok = lc.ActiveRun("feature-x")
		assert.False(t, ok)
	})
}

func TestLaneController_CancelRun(t *testing.T) {
	t.Run("success - explicit cancellation ignores supersede policy", func(t *testing.T) {
		// arrange
		lc := NewLaneController()
		run := &store.Run{RunID: 9, Lane: "main", CancelOnSupersede: false}
		ctx, cancel := context.WithCancel(context.Background())
		lc.Admit(run, cancel)

		// act
		ok := lc.CancelRun(9)

		// assert
		assert.True(t, ok)
		assert.Error(t, ctx.Err())
	})

	t.Run("failure - cancelling an unknown run", func(t *testing.T) {
		// arrange
		lc := NewLaneController()

		// act
		ok := lc.CancelRun(1234)

		// assert
		assert.False(t, ok)
	})
}
