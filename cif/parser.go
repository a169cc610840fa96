package cif

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/k0kubun/pp/v3"

	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/schema"
)

// halfMinutesPerDay is added to raw timings for every midnight boundary a
// schedule crosses, keeping all stop times relative to midnight on the
// schedule's first day.
const halfMinutesPerDay = 24 * 60 * 2

// Parser applies one CIF file (full extract or daily update) to the
// database. All mutations happen in a single transaction committed at ZZ;
// any decode or database failure aborts the whole file.
type Parser struct {
	DB       *sql.DB
	Debug    bool
	Progress io.Writer

	tx          *sql.Tx
	locations   *Locations
	stopInserts *database.Batch
	stopDeletes *database.Batch

	updateIndicator string
	verb            byte
	validityID      int64
	scheduleID      int64
	lastTime        int
	timeOffset      int
}

func NewParser(db *sql.DB) *Parser {
	return &Parser{DB: db, Progress: os.Stdout}
}

// Parse reads 80-column records (each followed by a newline) until ZZ.
func (p *Parser) Parse(r io.Reader) error {
	var err error
	p.locations, err = LoadLocations(p.DB)
	if err != nil {
		return err
	}

	p.stopInserts, err = database.NewBatch(p.DB, `INSERT INTO schedule_locations
		(schedule_iid, location_iid, tiploc_instance, arrival_time, departure_time, pass_time,
		 arrival_public, departure_public, platform, line, path, activity,
		 engineering_allowance, pathing_allowance, performance_allowance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`)
	if err != nil {
		return err
	}
	defer p.stopInserts.Close()

	p.stopDeletes, err = database.NewBatch(p.DB, "DELETE FROM schedule_locations WHERE schedule_iid=$1")
	if err != nil {
		return err
	}
	defer p.stopDeletes.Close()

	p.tx, err = p.DB.Begin()
	if err != nil {
		return err
	}

	started := time.Now()
	count := 0
	record := make([]byte, 81)
	for {
		// 80 columns plus the newline, which isn't padded.
		if _, err := io.ReadFull(r, record[:80]); err != nil {
			p.tx.Rollback()
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return fmt.Errorf("stream ended before ZZ record")
			}
			return err
		}
		if _, err := io.ReadFull(r, record[80:]); err != nil && err != io.EOF {
			p.tx.Rollback()
			return err
		}

		recordType, line := string(record[:2]), string(record[2:80])
		count++
		if count%database.DefaultBatchSize == 0 {
			fmt.Fprintf(p.Progress, "\r%8d %s", count, recordType)
			if err := p.flushStops(); err != nil {
				p.tx.Rollback()
				return err
			}
		}

		done, err := p.apply(recordType, line)
		if err != nil {
			p.tx.Rollback()
			return fmt.Errorf("record %d (%s): %w", count, recordType, err)
		}
		if done {
			fmt.Fprintf(p.Progress, "\r%8d ZZ %ds\n", count, int(time.Since(started).Seconds()))
			return nil
		}
	}
}

func (p *Parser) apply(recordType, line string) (done bool, err error) {
	switch recordType {
	case "HD":
		return false, p.applyHeader(line)
	case "AA":
		return false, p.applyAssociation(line)
	case "TI", "TA", "TD":
		return false, p.applyTiploc(recordType, line)
	case "BS":
		return false, p.applyBasicSchedule(line)
	case "BX":
		return false, p.applyExtension(line)
	case "LO", "LI", "LT":
		return false, p.applyStop(recordType, line)
	case "ZZ":
		return true, p.finish()
	default:
		// Unknown record types are a decode failure; the file is suspect.
		return false, fmt.Errorf("unknown record type %q", recordType)
	}
}

func (p *Parser) applyHeader(line string) error {
	header := decodeHeader(line)
	p.debug(header)
	p.updateIndicator = header.UpdateIndicator
	// Re-parsing an extract already on file must not abort at the first
	// record; everything downstream is upsert-shaped anyway.
	_, err := p.tx.Exec(`INSERT INTO headers
		(identity, extract_date, extract_time, current_reference, last_reference,
		 update_indicator, version, user_start_date, user_end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (identity) DO NOTHING`,
		header.Identity, header.ExtractDate, header.ExtractTime, header.CurrentRef,
		header.LastRef, header.UpdateIndicator, header.Version,
		header.UserStartDate, header.UserEndDate)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.Progress, "%s:  %s %s for %s..%s\n", header.Identity,
		header.ExtractDate, header.UpdateIndicator, header.UserStartDate, header.UserEndDate)
	return nil
}

func (p *Parser) applyAssociation(line string) error {
	assoc, err := decodeAssociation(line)
	if err != nil {
		return err
	}
	p.debug(assoc)
	switch assoc.Transaction {
	case TransactionNew, TransactionRevise:
		_, err = p.tx.Exec(`INSERT INTO associations
			(uid, uid_assoc, valid_from, valid_to, assoc_days, category, date_indicator,
			 tiploc, suffix, suffix_assoc, type, stp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (uid, uid_assoc, valid_from, stp) DO UPDATE SET
				valid_to=excluded.valid_to, assoc_days=excluded.assoc_days,
				category=excluded.category, date_indicator=excluded.date_indicator,
				tiploc=excluded.tiploc, suffix=excluded.suffix,
				suffix_assoc=excluded.suffix_assoc, type=excluded.type`,
			assoc.UID, assoc.UIDAssoc, assoc.ValidFrom, assoc.ValidTo, assoc.Days,
			assoc.Category, assoc.DateIndicator, assoc.Tiploc, assoc.Suffix,
			assoc.SuffixAssoc, assoc.Type, assoc.STP)
	default:
		_, err = p.tx.Exec(`DELETE FROM associations
			WHERE uid=$1 AND uid_assoc=$2 AND valid_from=$3 AND stp=$4`,
			assoc.UID, assoc.UIDAssoc, assoc.ValidFrom, assoc.STP)
	}
	return err
}

func (p *Parser) applyTiploc(recordType, line string) error {
	if recordType == "TD" {
		tiploc := cStr(line[0:7])
		fmt.Fprintf(p.Progress, "TD%s\n", line)
		return p.locations.Delete(p.tx, tiploc)
	}
	rec, err := decodeTiploc(recordType, line)
	if err != nil {
		return err
	}
	p.debug(rec)
	if recordType == "TI" {
		return p.locations.Insert(p.tx, rec)
	}
	return p.locations.Amend(p.tx, rec)
}

func (p *Parser) applyBasicSchedule(line string) error {
	bs := decodeBasicSchedule(line)
	p.debug(bs)
	p.verb = bs.Transaction

	if bs.Transaction != TransactionNew && bs.Transaction != TransactionRevise {
		_, err := p.tx.Exec(`DELETE FROM schedule_validities WHERE uid=$1 AND valid_from=$2 AND stp=$3`,
			bs.UID, bs.ValidFrom, bs.STP)
		return err
	}

	err := p.tx.QueryRow(`INSERT INTO schedule_validities
		(uid, valid_from, valid_to, weekdays, bank_holiday_running, stp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid, valid_from, stp) DO UPDATE SET
			valid_to=excluded.valid_to, weekdays=excluded.weekdays,
			bank_holiday_running=excluded.bank_holiday_running
		RETURNING iid`,
		bs.UID, bs.ValidFrom, bs.ValidTo, bs.Days, bs.BankHoliday, bs.STP).Scan(&p.validityID)
	if err != nil {
		return fmt.Errorf("upsert validity %s: %w", bs.UID, err)
	}

	// Segment zero is the only segment the feed currently carries; the key
	// exists so split schedules replace cleanly rather than accumulate.
	// The ATOC code is a placeholder until the BX record arrives.
	err = p.tx.QueryRow(`INSERT INTO schedules
		(validity_iid, segment_instance, status, category, signalling_id, headcode,
		 business_sector, power_type, timing_load, speed, operating_characteristics,
		 seating_class, sleepers, reservations, catering, branding,
		 traction_class, uic_code, atoc_code, applicable_timetable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULL, NULL, 'ZZ', NULL)
		ON CONFLICT (validity_iid, segment_instance) DO UPDATE SET
			status=excluded.status, category=excluded.category,
			signalling_id=excluded.signalling_id, headcode=excluded.headcode,
			business_sector=excluded.business_sector, power_type=excluded.power_type,
			timing_load=excluded.timing_load, speed=excluded.speed,
			operating_characteristics=excluded.operating_characteristics,
			seating_class=excluded.seating_class, sleepers=excluded.sleepers,
			reservations=excluded.reservations, catering=excluded.catering,
			branding=excluded.branding, traction_class=excluded.traction_class,
			uic_code=excluded.uic_code, atoc_code=excluded.atoc_code,
			applicable_timetable=excluded.applicable_timetable
		RETURNING iid`,
		p.validityID, 0, bs.Status, bs.Category, bs.SignallingID, bs.Headcode,
		bs.Sector, bs.PowerType, bs.TimingLoad, bs.Speed, bs.OpChars,
		bs.SeatingClass, bs.Sleepers, bs.Reservations, bs.Catering, bs.Branding).Scan(&p.scheduleID)
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", bs.UID, err)
	}
	return nil
}

func (p *Parser) applyExtension(line string) error {
	ext := decodeExtension(line)
	p.debug(ext)
	_, err := p.tx.Exec(`UPDATE schedules SET traction_class=$1, uic_code=$2, atoc_code=$3, applicable_timetable=$4 WHERE iid=$5`,
		ext.TractionClass, ext.UICCode, ext.ATOCCode, ext.ApplicableTimetable, p.scheduleID)
	return err
}

func (p *Parser) applyStop(recordType, line string) error {
	stop, err := decodeStop(recordType, line)
	if err != nil {
		return err
	}
	p.debug(stop)

	if recordType == "LO" {
		// A new journey: clear the midnight comparison state.
		p.lastTime, p.timeOffset = 0, 0
		if p.verb == TransactionRevise {
			p.stopDeletes.Add(p.scheduleID)
			if _, err := p.tx.Exec("UPDATE schedule_validities SET flattened_to=NULL WHERE iid=$1", p.validityID); err != nil {
				return err
			}
		}
	}

	locationID, ok := p.locations.Resolve(stop.Tiploc)
	if !ok {
		return fmt.Errorf("unknown tiploc %q", stop.Tiploc)
	}

	switch recordType {
	case "LO":
		if _, err := p.tx.Exec("UPDATE schedules SET origin_location_iid=$1 WHERE iid=$2", locationID, p.scheduleID); err != nil {
			return err
		}
	case "LT":
		if _, err := p.tx.Exec("UPDATE schedules SET destination_location_iid=$1 WHERE iid=$2", locationID, p.scheduleID); err != nil {
			return err
		}
	}

	p.wrapTimes(&stop)

	p.stopInserts.Add(p.scheduleID, locationID, stop.TiplocInstance,
		stop.Arrival, stop.Departure, stop.Pass,
		stop.PublicArrival, stop.PublicDeparture,
		stop.Platform, stop.Line, stop.Path, stop.Activity,
		stop.EngAllowance, stop.PathAllowance, stop.PerfAllowance)
	return nil
}

// wrapTimes rebases the stop's raw timings so they stay relative to
// midnight on the schedule's first day. Each decrease against the previous
// raw time marks one crossed midnight.
func (p *Parser) wrapTimes(stop *Stop) {
	for _, t := range []**int{&stop.Arrival, &stop.Departure, &stop.Pass} {
		if *t == nil {
			continue
		}
		raw := **t
		if raw < p.lastTime {
			p.timeOffset++
		}
		p.lastTime = raw
		wrapped := raw + p.timeOffset*halfMinutesPerDay
		*t = &wrapped
	}
}

func (p *Parser) finish() error {
	if err := p.flushStops(); err != nil {
		p.tx.Rollback()
		return err
	}
	if p.updateIndicator == "F" {
		fmt.Fprintln(p.Progress, "Building indexes")
		// Cheaper to build once the rows are all there.
		for _, ddl := range schema.DeferredIndexDDLs() {
			if _, err := p.tx.Exec(ddl); err != nil {
				p.tx.Rollback()
				return fmt.Errorf("deferred index: %w", err)
			}
		}
	}
	return p.tx.Commit()
}

// flushStops replays pending stop deletes before pending inserts, so a
// revised schedule's old stops never outlive its new ones.
func (p *Parser) flushStops() error {
	if err := p.stopDeletes.Flush(p.tx); err != nil {
		return err
	}
	return p.stopInserts.Flush(p.tx)
}

func (p *Parser) debug(record interface{}) {
	if p.Debug {
		pp.Fprintln(p.Progress, record)
	}
}
