// Package dbtest spins up throwaway sqlite databases mirroring the Swallow
// schema, so store-level tests can run the real SQL without a Postgres
// server. The production DDL (sequences, plpgsql trigger) lives in the
// schema package; this mirror only needs the shapes and uniqueness keys.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/swallow-rail/swallow/database"
)

var ddls = []string{
	`CREATE TABLE headers(
		identity TEXT, extract_date TEXT, extract_time TEXT,
		current_reference TEXT, last_reference TEXT,
		update_indicator TEXT, version TEXT,
		user_start_date TEXT, user_end_date TEXT,
		UNIQUE(identity)
	)`,
	`CREATE TABLE locations(
		iid INTEGER PRIMARY KEY AUTOINCREMENT,
		nalco TEXT NOT NULL, tiploc TEXT, name TEXT, stanox INTEGER, crs TEXT
	)`,
	`CREATE UNIQUE INDEX idx_location_nalco ON locations(nalco)`,
	`CREATE INDEX idx_location_tiploc ON locations(tiploc)`,
	`CREATE TABLE schedule_validities(
		iid INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL, valid_from TEXT NOT NULL, valid_to TEXT NOT NULL,
		weekdays TEXT NOT NULL, bank_holiday_running TEXT, stp TEXT,
		flattened_to TEXT DEFAULT NULL,
		UNIQUE (uid, valid_from, stp)
	)`,
	`CREATE TABLE schedules(
		iid INTEGER PRIMARY KEY AUTOINCREMENT,
		validity_iid INTEGER UNIQUE NOT NULL REFERENCES schedule_validities(iid) ON DELETE CASCADE,
		segment_instance INTEGER NOT NULL,
		status TEXT, category TEXT, signalling_id TEXT, headcode TEXT,
		business_sector TEXT, power_type TEXT, timing_load TEXT, speed TEXT,
		operating_characteristics TEXT, seating_class TEXT, sleepers TEXT,
		reservations TEXT, catering TEXT, branding TEXT,
		traction_class TEXT, uic_code TEXT, atoc_code TEXT, applicable_timetable TEXT,
		origin_location_iid INTEGER REFERENCES locations(iid),
		destination_location_iid INTEGER REFERENCES locations(iid),
		UNIQUE (validity_iid, segment_instance)
	)`,
	`CREATE TABLE associations(
		uid TEXT, uid_assoc TEXT, valid_from TEXT, valid_to TEXT,
		assoc_days TEXT, category TEXT, date_indicator TEXT, tiploc TEXT,
		suffix TEXT, suffix_assoc TEXT, type TEXT, stp TEXT,
		UNIQUE(uid, uid_assoc, valid_from, stp)
	)`,
	`CREATE TABLE schedule_locations(
		iid INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_iid INTEGER REFERENCES schedules(iid) ON DELETE CASCADE,
		location_iid INTEGER REFERENCES locations(iid),
		tiploc_instance TEXT,
		arrival_time INTEGER, departure_time INTEGER, pass_time INTEGER,
		arrival_public TEXT, departure_public TEXT,
		platform TEXT, line TEXT, path TEXT, activity TEXT,
		engineering_allowance TEXT, pathing_allowance TEXT, performance_allowance TEXT
	)`,
	`CREATE TABLE flat_reconstitution(
		uid TEXT NOT NULL, start_date TEXT NOT NULL,
		PRIMARY KEY(uid, start_date)
	)`,
	`CREATE TABLE flat_schedules(
		iid INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_validity_iid INTEGER DEFAULT NULL REFERENCES schedule_validities(iid) ON DELETE CASCADE,
		uid TEXT, start_date TEXT NOT NULL,
		trust_id TEXT DEFAULT NULL,
		actual_signalling_id TEXT DEFAULT NULL,
		actual_service_code TEXT DEFAULT NULL,
		activation_datetime INTEGER DEFAULT NULL,
		train_call_type TEXT DEFAULT NULL,
		cancellation_datetime INTEGER DEFAULT NULL,
		cancellation_reason TEXT DEFAULT NULL,
		cancellation_location INTEGER DEFAULT NULL REFERENCES locations(iid),
		current_location INTEGER DEFAULT NULL REFERENCES locations(iid),
		current_variation INTEGER DEFAULT NULL,
		UNIQUE (uid, start_date, trust_id),
		UNIQUE (start_date, trust_id)
	)`,
	`CREATE TABLE trust_movements(
		flat_schedule_iid INTEGER NOT NULL REFERENCES flat_schedules(iid) ON DELETE CASCADE,
		stanox INTEGER NOT NULL,
		datetime_scheduled INTEGER, datetime_actual INTEGER NOT NULL,
		movement_type TEXT NOT NULL,
		actual_platform TEXT, actual_route TEXT, actual_line TEXT,
		actual_variation_status TEXT, actual_variation INTEGER,
		actual_direction TEXT, actual_source TEXT
	)`,
	`CREATE TABLE flat_timing(
		flat_schedule_iid INTEGER NOT NULL REFERENCES flat_schedules(iid) ON DELETE CASCADE,
		schedule_location_iid INTEGER NOT NULL REFERENCES schedule_locations(iid) ON DELETE CASCADE,
		location_iid INTEGER NOT NULL REFERENCES locations(iid) ON DELETE CASCADE,
		arrival_scheduled INTEGER, departure_scheduled INTEGER, pass_scheduled INTEGER
	)`,
}

// Config returns a database.Config pointing at a fresh on-disk sqlite
// database under t.TempDir. A file, not :memory:, so that components which
// open their own sessions all see the same data. The pragmas apply to every
// connection any session opens against the file.
func Config(t *testing.T) database.Config {
	t.Helper()
	return database.Config{
		Driver: "sqlite",
		DbName: "file:" + filepath.Join(t.TempDir(), "swallow.db") +
			"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)",
	}
}

// New opens a fresh test database with the full Swallow table set.
func New(t *testing.T) (*sql.DB, database.Config) {
	t.Helper()
	config := Config(t)
	db, err := database.Open(config)
	if err != nil {
		t.Fatalf("open test database: %s", err)
	}
	t.Cleanup(func() { db.Close() })
	// Single writer per handle keeps sqlite's locking out of the way.
	db.SetMaxOpenConns(1)
	for _, ddl := range ddls {
		if _, err := db.Exec(ddl); err != nil {
			t.Fatalf("create test schema: %s\n%s", err, ddl)
		}
	}
	return db, config
}
