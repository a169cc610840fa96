package database

import (
	"database/sql"
	"fmt"
)

// DefaultBatchSize matches the flush cadence of the feed parser and the
// flattening engine: one flush per hundred staged rows.
const DefaultBatchSize = 100

// Batch stages argument tuples for a session-prepared statement and replays
// them in order on Flush. The schedule-stop table dominates insert volume,
// so its writes always go through a Batch rather than ad-hoc Execs.
type Batch struct {
	stmt    *sql.Stmt
	pending [][]interface{}
}

func NewBatch(db *sql.DB, query string) (*Batch, error) {
	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare batch statement: %w", err)
	}
	return &Batch{stmt: stmt}, nil
}

func (b *Batch) Add(args ...interface{}) {
	b.pending = append(b.pending, args)
}

func (b *Batch) Len() int {
	return len(b.pending)
}

// Flush executes every staged tuple inside tx and clears the stage.
func (b *Batch) Flush(tx *sql.Tx) error {
	if len(b.pending) == 0 {
		return nil
	}
	stmt := tx.Stmt(b.stmt)
	defer stmt.Close()
	for _, args := range b.pending {
		if _, err := stmt.Exec(args...); err != nil {
			return err
		}
	}
	b.pending = b.pending[:0]
	return nil
}

func (b *Batch) Close() error {
	return b.stmt.Close()
}
