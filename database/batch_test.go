package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/database/dbtest"
)

func TestBatchFlush(t *testing.T) {
	db, _ := dbtest.New(t)
	_, err := db.Exec("CREATE TABLE scratch (n INTEGER)")
	require.NoError(t, err)

	batch, err := database.NewBatch(db, "INSERT INTO scratch (n) VALUES ($1)")
	require.NoError(t, err)
	defer batch.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	batch.Add(1)
	batch.Add(2)
	assert.Equal(t, 2, batch.Len())
	require.NoError(t, batch.Flush(tx))
	assert.Zero(t, batch.Len())
	require.NoError(t, tx.Commit())

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM scratch").Scan(&count))
	assert.Equal(t, 2, count)

	// The prepared statement outlives the transaction it last ran in.
	tx, err = db.Begin()
	require.NoError(t, err)
	batch.Add(3)
	require.NoError(t, batch.Flush(tx))
	require.NoError(t, tx.Commit())
	require.NoError(t, db.QueryRow("SELECT count(*) FROM scratch").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestBatchFlushEmpty(t *testing.T) {
	db, _ := dbtest.New(t)
	batch, err := database.NewBatch(db, "INSERT INTO headers (identity) VALUES ($1)")
	require.NoError(t, err)
	defer batch.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, batch.Flush(tx))
}

func TestBatchRolledBackFlushKeepsNothing(t *testing.T) {
	db, _ := dbtest.New(t)
	_, err := db.Exec("CREATE TABLE scratch (n INTEGER)")
	require.NoError(t, err)

	batch, err := database.NewBatch(db, "INSERT INTO scratch (n) VALUES ($1)")
	require.NoError(t, err)
	defer batch.Close()

	tx, err := db.Begin()
	require.NoError(t, err)
	batch.Add(1)
	require.NoError(t, batch.Flush(tx))
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM scratch").Scan(&count))
	assert.Zero(t, count)
}
