package flatten

import (
	"database/sql"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/database/dbtest"
)

func newTestEngine(config database.Config) *Engine {
	e := New(config, zap.NewNop())
	e.Workers = 1
	e.HorizonDays = 14
	e.Progress = io.Discard
	return e
}

func seedLocations(t *testing.T, db *sql.DB) []int64 {
	t.Helper()
	iids := make([]int64, 3)
	for i, loc := range []struct {
		nalco, tiploc string
		stanox        int
	}{
		{"123400", "EUSTON", 87701},
		{"123500", "WATFDJ", 87702},
		{"123600", "BHAMNWS", 68100},
	} {
		err := db.QueryRow(`INSERT INTO locations (nalco, tiploc, name, stanox)
			VALUES ($1, $2, $3, $4) RETURNING iid`,
			loc.nalco, loc.tiploc, loc.tiploc, loc.stanox).Scan(&iids[i])
		require.NoError(t, err)
	}
	return iids
}

func seedValidity(t *testing.T, db *sql.DB, uid, from, to, weekdays, stp string) int64 {
	t.Helper()
	var iid int64
	err := db.QueryRow(`INSERT INTO schedule_validities (uid, valid_from, valid_to, weekdays, stp)
		VALUES ($1, $2, $3, $4, $5) RETURNING iid`,
		uid, from, to, weekdays, stp).Scan(&iid)
	require.NoError(t, err)
	return iid
}

// seedSchedule attaches a segment-zero schedule with three timed stops.
// Raw timings are half-minutes past midnight on the first running day.
func seedSchedule(t *testing.T, db *sql.DB, validityIID int64, locations []int64, timings [][3]interface{}) int64 {
	t.Helper()
	var iid int64
	err := db.QueryRow(`INSERT INTO schedules (validity_iid, segment_instance, status, category, atoc_code)
		VALUES ($1, 0, 'P', 'OO', 'VT') RETURNING iid`, validityIID).Scan(&iid)
	require.NoError(t, err)
	for i, timing := range timings {
		_, err := db.Exec(`INSERT INTO schedule_locations
			(schedule_iid, location_iid, arrival_time, departure_time, pass_time)
			VALUES ($1, $2, $3, $4, $5)`,
			iid, locations[i%len(locations)], timing[0], timing[1], timing[2])
		require.NoError(t, err)
	}
	return iid
}

var weekdayTimings = [][3]interface{}{
	{nil, 1441, nil}, // 1200H
	{1470, 1500, nil},
	{1560, nil, nil},
}

func flatDates(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT start_date FROM flat_schedules ORDER BY start_date")
	require.NoError(t, err)
	defer rows.Close()
	var dates []string
	for rows.Next() {
		var d string
		require.NoError(t, rows.Scan(&d))
		dates = append(dates, d)
	}
	require.NoError(t, rows.Err())
	return dates
}

func TestEngineFlattensHorizon(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	validityIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, validityIID, locations, weekdayTimings)

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	// 2024-01-01 is a Monday; the window runs Monday to Friday.
	assert.Equal(t, []string{
		"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05",
	}, flatDates(t, db))

	var flattenedTo string
	require.NoError(t, db.QueryRow("SELECT flattened_to FROM schedule_validities WHERE iid=$1", validityIID).Scan(&flattenedTo))
	assert.Equal(t, "2024-01-15", flattenedTo)

	midnight, err := database.Date("2024-01-03").Midnight()
	require.NoError(t, err)
	rows, err := db.Query(`SELECT ft.arrival_scheduled, ft.departure_scheduled
		FROM flat_timing ft JOIN flat_schedules fs ON fs.iid = ft.flat_schedule_iid
		WHERE fs.start_date = '2024-01-03' ORDER BY ft.schedule_location_iid`)
	require.NoError(t, err)
	defer rows.Close()
	var timings [][2]sql.NullInt64
	for rows.Next() {
		var row [2]sql.NullInt64
		require.NoError(t, rows.Scan(&row[0], &row[1]))
		timings = append(timings, row)
	}
	require.NoError(t, rows.Err())
	require.Len(t, timings, 3)
	assert.False(t, timings[0][0].Valid)
	assert.Equal(t, midnight+1441*30, timings[0][1].Int64)
	assert.Equal(t, midnight+1470*30, timings[1][0].Int64)
	assert.Equal(t, midnight+1560*30, timings[2][0].Int64)

	// A second pass with nothing new must leave everything alone.
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))
	assert.Len(t, flatDates(t, db), 5)
}

func TestOverlayWinsItsDays(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	permanentIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, permanentIID, locations, weekdayTimings)
	overlayIID := seedValidity(t, db, "A12345", "2024-01-03", "2024-01-04", "1111111", "O")
	seedSchedule(t, db, overlayIID, locations, [][3]interface{}{
		{nil, 1501, nil},
		{1530, 1532, nil},
		{1620, nil, nil},
	})

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	rows, err := db.Query("SELECT start_date, schedule_validity_iid FROM flat_schedules ORDER BY start_date")
	require.NoError(t, err)
	defer rows.Close()
	winners := map[string]int64{}
	for rows.Next() {
		var date string
		var validityIID int64
		require.NoError(t, rows.Scan(&date, &validityIID))
		winners[date] = validityIID
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, permanentIID, winners["2024-01-02"])
	assert.Equal(t, overlayIID, winners["2024-01-03"])
	assert.Equal(t, overlayIID, winners["2024-01-04"])
	assert.Equal(t, permanentIID, winners["2024-01-05"])
}

func TestCancellationRemovesDay(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	validityIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, validityIID, locations, weekdayTimings)

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))
	require.Len(t, flatDates(t, db), 5)

	// A short-term cancellation for the Wednesday arrives later.
	seedValidity(t, db, "A12345", "2024-01-03", "2024-01-03", "1111111", "C")
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	assert.Equal(t, []string{
		"2024-01-01", "2024-01-02", "2024-01-04", "2024-01-05",
	}, flatDates(t, db))

	// The cascade must take the cancelled day's timing rows with it.
	var orphans int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM flat_timing ft
		WHERE NOT EXISTS (SELECT 1 FROM flat_schedules fs WHERE fs.iid = ft.flat_schedule_iid)`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestLateOverlayReplacesFlattenedDay(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	permanentIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, permanentIID, locations, weekdayTimings)

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))
	require.Len(t, flatDates(t, db), 5)

	// An overlay for Wednesday and Thursday arrives after those days were
	// already flattened; its rows must replace the permanent ones.
	overlayIID := seedValidity(t, db, "A12345", "2024-01-03", "2024-01-04", "1111111", "O")
	seedSchedule(t, db, overlayIID, locations, [][3]interface{}{
		{nil, 1501, nil},
		{1530, 1532, nil},
		{1620, nil, nil},
	})
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	assert.Len(t, flatDates(t, db), 5, "replacement must not duplicate days")

	rows, err := db.Query("SELECT start_date, schedule_validity_iid FROM flat_schedules ORDER BY start_date")
	require.NoError(t, err)
	defer rows.Close()
	winners := map[string]int64{}
	for rows.Next() {
		var date string
		var validityIID int64
		require.NoError(t, rows.Scan(&date, &validityIID))
		winners[date] = validityIID
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, permanentIID, winners["2024-01-02"])
	assert.Equal(t, overlayIID, winners["2024-01-03"])
	assert.Equal(t, overlayIID, winners["2024-01-04"])
	assert.Equal(t, permanentIID, winners["2024-01-05"])

	// The replaced day carries the overlay's timings, not the originals.
	midnight, err := database.Date("2024-01-03").Midnight()
	require.NoError(t, err)
	var departure sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT ft.departure_scheduled
		FROM flat_timing ft JOIN flat_schedules fs ON fs.iid = ft.flat_schedule_iid
		WHERE fs.start_date = '2024-01-03' ORDER BY ft.schedule_location_iid LIMIT 1`).Scan(&departure))
	assert.Equal(t, midnight+1501*30, departure.Int64)

	var orphans int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM flat_timing ft
		WHERE NOT EXISTS (SELECT 1 FROM flat_schedules fs WHERE fs.iid = ft.flat_schedule_iid)`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestReconstitutionDiscardsStaleEntry(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	validityIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, validityIID, locations, weekdayTimings)

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	// A queue entry for a day whose flat row still exists is stale.
	_, err := db.Exec("INSERT INTO flat_reconstitution (uid, start_date) VALUES ('A12345', '2024-01-02')")
	require.NoError(t, err)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	var queued int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM flat_reconstitution").Scan(&queued))
	assert.Zero(t, queued)
	var rows int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM flat_schedules WHERE start_date='2024-01-02'").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestReconstitutionRepairsHole(t *testing.T) {
	db, config := dbtest.New(t)
	locations := seedLocations(t, db)
	validityIID := seedValidity(t, db, "A12345", "2024-01-01", "2024-01-07", "1111100", "P")
	seedSchedule(t, db, validityIID, locations, weekdayTimings)

	engine := newTestEngine(config)
	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	// An out-of-band delete; in production the trigger records the hole.
	_, err := db.Exec("DELETE FROM flat_schedules WHERE start_date='2024-01-02'")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO flat_reconstitution (uid, start_date) VALUES ('A12345', '2024-01-02')")
	require.NoError(t, err)

	require.NoError(t, engine.RunOnce(database.Date("2024-01-01")))

	assert.Len(t, flatDates(t, db), 5)
	var queued int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM flat_reconstitution").Scan(&queued))
	assert.Zero(t, queued)

	var timings int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM flat_timing ft
		JOIN flat_schedules fs ON fs.iid = ft.flat_schedule_iid
		WHERE fs.start_date = '2024-01-02'`).Scan(&timings))
	assert.Equal(t, 3, timings)
}

func TestRunOnceReportsSessionFailure(t *testing.T) {
	// Nothing listens on port 1, so the first worker session fails while
	// it sets up; the pass must report that instead of hanging.
	engine := newTestEngine(database.Config{
		Driver: "postgres",
		DbName: "swallow",
		User:   "swallow",
		Host:   "127.0.0.1",
		Port:   1,
	})
	engine.Workers = 2
	assert.Error(t, engine.RunOnce(database.Date("2024-01-01")))
}

func TestDispatchPartitionsByUID(t *testing.T) {
	e := newTestEngine(database.Config{})
	queues := make([]chan *Task, 4)
	for i := range queues {
		queues[i] = make(chan *Task, 8)
	}
	for i := 0; i < 3; i++ {
		e.dispatch(queues, "A12345", &Task{UID: "A12345"})
	}
	loaded := 0
	for _, q := range queues {
		if len(q) > 0 {
			assert.Len(t, q, 3)
			loaded++
		}
	}
	assert.Equal(t, 1, loaded, "one uid must always land on one worker")
}
