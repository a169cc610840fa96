package flatten

import (
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/swallow-rail/swallow/database"
)

// stpRank is the override precedence of the short-term-plan codes, lowest
// first: permanent < overlay < new < cancellation. The per-date scan walks
// validities in ascending rank so the final assignment is the winner. The
// codes happen to sort the same way lexically, but the precedence is policy
// and deserves a name.
var stpRank = map[string]int{
	"P": 0,
	"O": 1,
	"N": 2,
	"C": 3,
}

const stpCancellation = "C"

// validity is one schedule_validities row joined to its segment-zero
// schedule body.
type validity struct {
	iid         int64
	scheduleIID sql.NullInt64
	stp         string
	weekdays    string
	validFrom   database.Date
	validTo     database.Date
	flattenedTo database.Date // "" when NULL
}

// worker owns a single database session; workers never share state except
// through the database. Deletes it issues run under the engine application
// name so the reconstitution trigger stays quiet.
type worker struct {
	db      *sql.DB
	config  database.Config
	log     *zap.Logger
	tx      *sql.Tx
	timings *database.Batch
	count   int
	err     error
}

func newWorkerSession(config database.Config, log *zap.Logger) (*worker, error) {
	db, err := database.Open(config)
	if err != nil {
		return nil, err
	}
	// One connection per worker, so SET application_name and prepared
	// statements hold for the whole session.
	db.SetMaxOpenConns(1)
	if err := database.SetApplicationName(db, config, database.EngineAppName); err != nil {
		db.Close()
		return nil, err
	}

	timings, err := database.NewBatch(db, `INSERT INTO flat_timing
		(flat_schedule_iid, schedule_location_iid, location_iid,
		 arrival_scheduled, departure_scheduled, pass_scheduled)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &worker{db: db, config: config, log: log, timings: timings}, nil
}

func (w *worker) run(tasks <-chan *Task, acks chan<- error) {
	defer w.db.Close()
	defer w.timings.Close()

	w.err = w.begin()
	for task := range tasks {
		if task == nil {
			// Sentinel: flush, commit and report.
			if w.err == nil {
				w.err = w.commitAndBegin()
			}
			acks <- w.err
			continue
		}
		if w.err != nil {
			continue // drain until the sentinel reports the failure
		}
		if err := w.process(task); err != nil {
			w.log.Error("flatten task failed",
				zap.String("uid", task.UID),
				zap.String("from", task.From.String()),
				zap.Bool("reconstitute", task.Reconstitute),
				zap.Error(err))
			w.err = err
			continue
		}
		w.count++
		if w.count%database.DefaultBatchSize == 0 {
			w.err = w.commitAndBegin()
		}
	}
	if w.tx != nil {
		w.tx.Rollback()
	}
}

func (w *worker) begin() error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	w.tx = tx
	return nil
}

func (w *worker) commitAndBegin() error {
	if err := w.timings.Flush(w.tx); err != nil {
		w.tx.Rollback()
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return err
	}
	return w.begin()
}

func (w *worker) process(task *Task) error {
	endDate := task.From.AddDays(task.Days)

	// The deletion trigger fires even when a replacement row already
	// exists; a stale queue entry must not trash a live flat schedule.
	if task.Reconstitute {
		var existing int
		err := w.tx.QueryRow(`SELECT count(*) FROM flat_schedules WHERE uid=$1 AND start_date=$2`,
			task.UID, task.From).Scan(&existing)
		if err != nil {
			return err
		}
		if existing > 0 {
			_, err := w.tx.Exec(`DELETE FROM flat_reconstitution WHERE uid=$1 AND start_date=$2`,
				task.UID, task.From)
			return err
		}
	}

	validities, err := w.loadValidities(task.UID, task.From, endDate)
	if err != nil {
		return err
	}

	for i := 0; i <= task.Days; i++ {
		date := task.From.AddDays(i)
		if err := w.flattenDate(task, date, validities); err != nil {
			return err
		}
	}

	if !task.Reconstitute {
		_, err := w.tx.Exec(`UPDATE schedule_validities SET flattened_to=$1 WHERE uid=$2`,
			endDate, task.UID)
		if err != nil {
			return err
		}
	}
	return nil
}

// loadValidities returns the service's windows intersecting the horizon in
// ascending override precedence.
func (w *worker) loadValidities(uid string, from, to database.Date) ([]validity, error) {
	rows, err := w.tx.Query(`SELECT sv.iid, s.iid, sv.stp, sv.weekdays, sv.valid_from, sv.valid_to, sv.flattened_to
		FROM schedule_validities sv
		LEFT JOIN schedules s ON s.validity_iid = sv.iid AND s.segment_instance = 0
		WHERE sv.uid=$1 AND sv.valid_to >= $2 AND sv.valid_from <= $3`,
		uid, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var validities []validity
	for rows.Next() {
		var v validity
		if err := rows.Scan(&v.iid, &v.scheduleIID, &v.stp, &v.weekdays, &v.validFrom, &v.validTo, &v.flattenedTo); err != nil {
			return nil, err
		}
		validities = append(validities, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(validities, func(i, j int) bool {
		return stpRank[validities[i].stp] < stpRank[validities[j].stp]
	})
	return validities, nil
}

func (w *worker) flattenDate(task *Task, date database.Date, validities []validity) error {
	matches := 0
	alreadyFlattened := false
	lastSTP := ""
	var winner validity
	var scheduleIID int64 // zero when the winning STP is a cancellation

	weekday := date.WeekdayIndex()
	for _, v := range validities {
		if v.validFrom > date || v.validTo < date {
			continue
		}
		if weekday >= len(v.weekdays) || v.weekdays[weekday] != '1' {
			continue
		}
		if v.flattenedTo != "" && v.flattenedTo >= date {
			alreadyFlattened = true
		}
		matches++
		lastSTP = v.stp
		winner = v
		if v.stp == stpCancellation {
			scheduleIID = 0
		} else {
			scheduleIID = v.scheduleIID.Int64
		}
	}

	// No validity matched: not our business to delete anything.
	if matches == 0 {
		return nil
	}

	// Skip only when the winning validity's own marker covers the date. A
	// cancellation or overlay that arrived after the day was flattened has
	// no marker yet, and must reach the replacement branch below.
	if winner.flattenedTo != "" && winner.flattenedTo >= date && !task.Reconstitute {
		return nil
	}

	// Either a cancellation overrides a day that was already flattened, or
	// the day was flattened and a different validity now wins: replace.
	// These deletes carry the engine identity, so no reconstitution entry.
	if alreadyFlattened && (lastSTP == stpCancellation && scheduleIID == 0 || scheduleIID != 0) {
		if _, err := w.tx.Exec(`DELETE FROM flat_schedules WHERE uid=$1 AND start_date=$2`, task.UID, date); err != nil {
			return err
		}
		if _, err := w.tx.Exec(`DELETE FROM flat_reconstitution WHERE uid=$1 AND start_date=$2`, task.UID, date); err != nil {
			return err
		}
	}

	if scheduleIID == 0 {
		return nil
	}

	var flatIID int64
	err := w.tx.QueryRow(`INSERT INTO flat_schedules (schedule_validity_iid, uid, start_date)
		VALUES ($1, $2, $3) RETURNING iid`,
		winner.iid, task.UID, date).Scan(&flatIID)
	if err != nil {
		return fmt.Errorf("insert flat schedule %s %s: %w", task.UID, date, err)
	}

	midnight, err := date.Midnight()
	if err != nil {
		return err
	}

	stops, err := w.tx.Query(`SELECT iid, location_iid, arrival_time, departure_time, pass_time
		FROM schedule_locations WHERE schedule_iid=$1 ORDER BY iid`, scheduleIID)
	if err != nil {
		return err
	}
	defer stops.Close()

	for stops.Next() {
		var stopIID, locationIID int64
		var arrival, departure, pass sql.NullInt64
		if err := stops.Scan(&stopIID, &locationIID, &arrival, &departure, &pass); err != nil {
			return err
		}
		w.timings.Add(flatIID, stopIID, locationIID,
			absoluteSeconds(midnight, arrival),
			absoluteSeconds(midnight, departure),
			absoluteSeconds(midnight, pass))
	}
	return stops.Err()
}

// absoluteSeconds turns a half-minute offset into Unix seconds on the given
// day, preserving nulls.
func absoluteSeconds(midnight int64, halfMinutes sql.NullInt64) interface{} {
	if !halfMinutes.Valid {
		return nil
	}
	return midnight + halfMinutes.Int64*30
}
