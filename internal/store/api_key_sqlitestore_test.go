package store

import (
	"context"
	"database/sql"
	"log"
	"testing"

	"github.com/hartell/matrixci/internal"
	"github.com/stretchr/testify/assert"

	_ "modernc.org/sqlite"
)

func newAPIKeyTestStore(t *testing.T) (*APIKeySQLiteStore, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	RunMigrations(db, internal.MigrationsDir)
	return NewAPIKeySQLiteStore(db, db), db
}

func TestAPIKeySQLiteStore(t *testing.T) {
	t.Run("success - api key is created and read by value", func(t *testing.T) {
		// arrange
		store, db := newAPIKeyTestStore(t)
		defer db.Close()

		// act
		key, err := store.CreateAPIKey(context.Background(), "some-key-value")

		// assert
		assert.NoError(t, err)
		assert.NotZero(t, key.ID)

		read, err := store.ReadAPIKeyByValue(context.Background(), "some-key-value")
		assert.NoError(t, err)
		assert.Equal(t, key.ID, read.ID)
	})

	t.Run("failure - reading a deleted api key", func(t *testing.T) {
		// arrange
		store, db := newAPIKeyTestStore(t)
		defer db.Close()
		key, err := store.CreateAPIKey(context.Background(), "deleted-key")
		assert.NoError(t, err)

		// act
		err = store.DeleteAPIKey(context.Background(), key.ID)

		// assert
		assert.NoError(t, err)
		_, readErr := store.ReadAPIKeyByID(context.Background(), key.ID)
		assert.ErrorIs(t, readErr, sql.ErrNoRows)
	})
}
