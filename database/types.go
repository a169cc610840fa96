package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Date is a calendar day in ISO form ("2006-01-02"). Postgres hands DATE
// columns back as time.Time while sqlite stores them as TEXT; Date scans
// both so the same queries run against either engine.
type Date string

func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

func Today() Date {
	return DateOf(time.Now())
}

func (d Date) String() string { return string(d) }

func (d Date) Value() (driver.Value, error) {
	return string(d), nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = DateOf(v)
	case string:
		*d = Date(v)
	case []byte:
		*d = Date(v)
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
	return nil
}

func (d Date) Time() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", string(d), time.Local)
}

// AddDays returns the date n days later (negative n goes back).
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

// WeekdayIndex returns 0 for Monday through 6 for Sunday, matching the
// position convention of the CIF weekday mask.
func (d Date) WeekdayIndex() int {
	t, err := d.Time()
	if err != nil {
		return 0
	}
	return (int(t.Weekday()) + 6) % 7
}

// Midnight returns local midnight of the day as Unix seconds. Schedule
// timings are half-minute offsets from this instant.
func (d Date) Midnight() (int64, error) {
	t, err := d.Time()
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// DaysUntil returns the whole-day span from d to other.
func (d Date) DaysUntil(other Date) int {
	a, err := d.Time()
	if err != nil {
		return 0
	}
	b, err := other.Time()
	if err != nil {
		return 0
	}
	return int(b.Sub(a).Hours() / 24)
}
