package cif

import (
	"database/sql"
	"fmt"
)

// Locations maps tiploc codes to internal location iids. Inline selects on
// the stop-record hot path were the parser's dominant cost, so the whole
// mapping is loaded up front and kept current as TI/TA/TD records arrive.
type Locations struct {
	byTiploc map[string]int64
}

func LoadLocations(db *sql.DB) (*Locations, error) {
	rows, err := db.Query("SELECT tiploc, iid FROM locations")
	if err != nil {
		return nil, fmt.Errorf("load location cache: %w", err)
	}
	defer rows.Close()

	l := &Locations{byTiploc: map[string]int64{}}
	for rows.Next() {
		var tiploc sql.NullString
		var iid int64
		if err := rows.Scan(&tiploc, &iid); err != nil {
			return nil, err
		}
		if tiploc.Valid {
			l.byTiploc[tiploc.String] = iid
		}
	}
	return l, rows.Err()
}

func (l *Locations) Resolve(tiploc string) (int64, bool) {
	iid, ok := l.byTiploc[tiploc]
	return iid, ok
}

// Insert upserts a location, idempotent on nalco. The cache only learns the
// new iid when a row was actually inserted.
func (l *Locations) Insert(tx *sql.Tx, rec Tiploc) error {
	var tiploc string
	var iid int64
	err := tx.QueryRow(`INSERT INTO locations(tiploc, nalco, name, stanox, crs)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
		RETURNING tiploc, iid`,
		rec.Tiploc, rec.NLC, rec.Name, rec.Stanox, rec.CRS).Scan(&tiploc, &iid)
	if err == sql.ErrNoRows {
		return nil // already present
	}
	if err != nil {
		return fmt.Errorf("insert location %s: %w", rec.Tiploc, err)
	}
	l.byTiploc[tiploc] = iid
	return nil
}

// Amend updates a location in place; a non-empty Replacement renames the
// primary tiploc as well.
func (l *Locations) Amend(tx *sql.Tx, rec Tiploc) error {
	if rec.Replacement != "" {
		_, err := tx.Exec(`UPDATE locations SET tiploc=$1, nalco=$2, name=$3, stanox=$4, crs=$5 WHERE tiploc=$6`,
			rec.Replacement, rec.NLC, rec.Name, rec.Stanox, rec.CRS, rec.Tiploc)
		if err != nil {
			return fmt.Errorf("amend location %s: %w", rec.Tiploc, err)
		}
		if iid, ok := l.byTiploc[rec.Tiploc]; ok {
			delete(l.byTiploc, rec.Tiploc)
			l.byTiploc[rec.Replacement] = iid
		}
		return nil
	}
	_, err := tx.Exec(`UPDATE locations SET nalco=$1, name=$2, stanox=$3, crs=$4 WHERE tiploc=$5`,
		rec.NLC, rec.Name, rec.Stanox, rec.CRS, rec.Tiploc)
	if err != nil {
		return fmt.Errorf("amend location %s: %w", rec.Tiploc, err)
	}
	return nil
}

func (l *Locations) Delete(tx *sql.Tx, tiploc string) error {
	if _, err := tx.Exec("DELETE FROM locations WHERE tiploc=$1", tiploc); err != nil {
		return fmt.Errorf("delete location %s: %w", tiploc, err)
	}
	delete(l.byTiploc, tiploc)
	return nil
}
