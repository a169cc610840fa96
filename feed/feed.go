// Package feed keeps the template store current by fetching the daily
// CIF update files the last extract is missing.
package feed

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/swallow-rail/swallow/cif"
	"github.com/swallow-rail/swallow/database"
)

// DefaultUpdateURL is the authenticated daily-update endpoint, templated on
// the lowercase three-letter weekday name.
const DefaultUpdateURL = "https://datafeeds.networkrail.co.uk/ntrod/CifFileAuthenticate?type=CIF_ALL_UPDATE_DAILY&day=toc-update-%s.CIF.gz"

// maxGapDays bounds how far behind the schedule may fall: the upstream
// feed only retains one week of updates, and skipping a day would leave a
// non-contiguous (silently corrupt) template store.
const maxGapDays = 7

var (
	ErrNoHeader   = errors.New("no header information in database")
	ErrUpToDate   = errors.New("the schedule is already up to date")
	ErrGapTooWide = errors.New("last retrieval over 7 days ago, cannot create a non-contiguous schedule")
)

var weekdayNames = [7]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

type Refresher struct {
	DB        *sql.DB
	Client    *http.Client
	Username  string
	Password  string
	UpdateURL string
	Progress  io.Writer
}

func NewRefresher(db *sql.DB, username, password string) *Refresher {
	return &Refresher{
		DB:        db,
		Client:    http.DefaultClient,
		Username:  username,
		Password:  password,
		UpdateURL: DefaultUpdateURL,
		Progress:  os.Stdout,
	}
}

// Run fetches and parses every daily update between the newest header's
// extract date and today. Returns ErrUpToDate when there is nothing to do
// and ErrGapTooWide when the timeline can no longer be kept contiguous.
func (r *Refresher) Run(today database.Date) error {
	var lastUpdated database.Date
	err := r.DB.QueryRow("SELECT extract_date FROM headers ORDER BY extract_date DESC LIMIT 1").Scan(&lastUpdated)
	if err == sql.ErrNoRows {
		return ErrNoHeader
	}
	if err != nil {
		return err
	}

	span := lastUpdated.DaysUntil(today)
	if span > maxGapDays {
		return ErrGapTooWide
	}
	if span <= 1 {
		return ErrUpToDate
	}

	for offset := 1; offset < span; offset++ {
		day := lastUpdated.AddDays(offset)
		fmt.Fprintln(r.Progress, day)
		if err := r.fetchAndParse(day); err != nil {
			return fmt.Errorf("update for %s: %w", day, err)
		}
	}
	return nil
}

func (r *Refresher) fetchAndParse(day database.Date) error {
	url := fmt.Sprintf(r.UpdateURL, weekdayNames[day.WeekdayIndex()])
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(r.Username, r.Password)

	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("decompress update: %w", err)
	}
	defer body.Close()

	parser := cif.NewParser(r.DB)
	parser.Progress = r.Progress
	return parser.Parse(body)
}
