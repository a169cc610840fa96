package cif

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/swallow-rail/swallow/database"
)

// corpusEntry is one row of the CORPUS location reference export.
type corpusEntry struct {
	Tiploc  string `json:"TIPLOC"`
	NLC     string `json:"NLC"`
	NLCDesc string `json:"NLCDESC"`
	Stanox  string `json:"STANOX"`
	CRS     string `json:"3ALPHA"`
}

type corpusFile struct {
	TiplocData []corpusEntry `json:"TIPLOCDATA"`
}

// IncorporateCorpus bulk-loads the CORPUS location reference into the
// locations table ahead of a CIF parse. CORPUS carries fewer duplicate
// stanox codes than the TI records do. Conflicts on nalco are ignored, so
// the import is idempotent. Entries with no tiploc, stanox or CRS are
// skipped unless includeNalcoOnly is set.
func IncorporateCorpus(db *sql.DB, path string, includeNalcoOnly bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return incorporateCorpus(db, charmap.ISO8859_1.NewDecoder().Reader(f), includeNalcoOnly)
}

func incorporateCorpus(db *sql.DB, r io.Reader, includeNalcoOnly bool) error {
	var corpus corpusFile
	if err := json.NewDecoder(r).Decode(&corpus); err != nil {
		return fmt.Errorf("decode CORPUS: %w", err)
	}

	batch, err := database.NewBatch(db, `INSERT INTO locations(tiploc, nalco, name, stanox, crs)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`)
	if err != nil {
		return err
	}
	defer batch.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}

	for _, entry := range corpus.TiplocData {
		tiploc := cStrN(entry.Tiploc)
		stanox := cStrN(entry.Stanox)
		crs := cStrN(entry.CRS)
		if tiploc == nil && stanox == nil && crs == nil && !includeNalcoOnly {
			continue
		}
		batch.Add(tiploc, strings.TrimRight(entry.NLC, " "), cStrN(entry.NLCDesc), stanox, crs)
		if batch.Len() >= database.DefaultBatchSize {
			if err := batch.Flush(tx); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	if err := batch.Flush(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
