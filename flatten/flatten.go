// Package flatten materialises calendar-dated flat schedules from template
// validity windows over a rolling horizon, and repairs holes recorded in
// the flat_reconstitution queue by the database trigger.
package flatten

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swallow-rail/swallow/database"
)

const (
	DefaultWorkers     = 4
	DefaultHorizonDays = 14

	queueDepth = 4096
)

// Task is one unit of worker input: flatten a single service identifier
// over [From, From+Days]. Reconstitution tasks come from the trigger queue
// and cover a single day.
type Task struct {
	UID          string
	From         database.Date
	Days         int
	Reconstitute bool
}

type Engine struct {
	Config      database.Config
	Workers     int
	HorizonDays int
	Log         *zap.Logger
	Progress    io.Writer
}

func New(config database.Config, log *zap.Logger) *Engine {
	return &Engine{
		Config:      config,
		Workers:     DefaultWorkers,
		HorizonDays: DefaultHorizonDays,
		Log:         log,
		Progress:    os.Stdout,
	}
}

// dispatch picks the worker queue for a service identifier. Partitioning by
// uid guarantees no two workers ever touch the same validity row.
func (e *Engine) dispatch(queues []chan *Task, uid string, task *Task) {
	h := fnv.New32a()
	h.Write([]byte(uid))
	queues[int(h.Sum32())%len(queues)] <- task
}

// RunOnce drives a single full pass: every service whose validity windows
// intersect [today, today+HorizonDays] and isn't flattened that far yet,
// plus everything in the reconstitution queue.
func (e *Engine) RunOnce(today database.Date) error {
	db, err := database.Open(e.Config)
	if err != nil {
		return err
	}
	defer db.Close()
	return e.runPass(db, today)
}

// RunForever repeats passes on a cadence until the context is cancelled.
func (e *Engine) RunForever(ctx context.Context, interval time.Duration) error {
	db, err := database.Open(e.Config)
	if err != nil {
		return err
	}
	defer db.Close()

	for {
		if err := e.runPass(db, database.Today()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (e *Engine) runPass(db *sql.DB, today database.Date) error {
	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	horizon := e.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	endDate := today.AddDays(horizon)

	queues := make([]chan *Task, workers)
	acks := make(chan error, workers)
	for i := range queues {
		queues[i] = make(chan *Task, queueDepth)
		w, err := newWorkerSession(e.Config, e.Log.With(zap.Int("worker", i)))
		if err != nil {
			// Release the workers already spawned, or they sit blocked on
			// their queues forever.
			for j := 0; j < i; j++ {
				close(queues[j])
			}
			return err
		}
		go w.run(queues[i], acks)
	}

	uids, err := e.pendingServices(db, today, endDate)
	if err != nil {
		return err
	}
	for _, uid := range uids {
		e.dispatch(queues, uid, &Task{UID: uid, From: today, Days: horizon})
	}

	holes, err := e.reconstitutionQueue(db)
	if err != nil {
		return err
	}
	for _, hole := range holes {
		e.dispatch(queues, hole.UID, &hole)
	}

	e.Log.Info("pass dispatched",
		zap.Int("services", len(uids)),
		zap.Int("reconstitutions", len(holes)),
		zap.String("horizon_end", endDate.String()))

	// The nil sentinel tells each worker to flush, commit and report.
	for i := range queues {
		queues[i] <- nil
	}

	var firstErr error
	remaining := workers
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for remaining > 0 {
		select {
		case err := <-acks:
			if err != nil && firstErr == nil {
				firstErr = err
			}
			remaining--
		case <-ticker.C:
			depths := make([]string, len(queues))
			for i, q := range queues {
				depths[i] = fmt.Sprintf("%-7d", len(q))
			}
			fmt.Fprintf(e.Progress, "\r%s", strings.Join(depths, ", "))
		}
	}
	for i := range queues {
		close(queues[i])
	}
	return firstErr
}

// pendingServices lists the distinct service identifiers whose windows
// intersect the horizon and whose flattened_to marker doesn't cover it.
func (e *Engine) pendingServices(db *sql.DB, today, endDate database.Date) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT uid FROM schedule_validities
		WHERE valid_to >= $1 AND valid_from <= $2
		AND (flattened_to < $3 OR flattened_to IS NULL)`,
		today, endDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, strings.TrimRight(uid, " "))
	}
	return uids, rows.Err()
}

func (e *Engine) reconstitutionQueue(db *sql.DB) ([]Task, error) {
	rows, err := db.Query("SELECT uid, start_date FROM flat_reconstitution")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var uid string
		var startDate database.Date
		if err := rows.Scan(&uid, &startDate); err != nil {
			return nil, err
		}
		tasks = append(tasks, Task{
			UID:          strings.TrimRight(uid, " "),
			From:         startDate,
			Days:         1,
			Reconstitute: true,
		})
	}
	return tasks, rows.Err()
}
