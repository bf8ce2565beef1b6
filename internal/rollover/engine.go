// Package rollover implements the once-daily transition of a user's
// Active-Day Set: archive, aggregate into a progress entry, clear and
// repopulate from the next weekday's schedule.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/repository"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// ErrNoSession means there is no user to run for. It is not a failure;
// the caller should try again later.
var ErrNoSession = errors.New("no user session")

// ProgressSink receives every progress entry the engine writes.
type ProgressSink interface {
	WriteProgress(ctx context.Context, uid string, entry models.ProgressEntry) error
}

// Result summarises one Run.
type Result struct {
	UserID string `json:"userId"`
	// Date is the archived day (yesterday relative to the run).
	Date         string       `json:"date"`
	Skipped      bool         `json:"skipped"`
	ResumedFrom  models.Phase `json:"resumedFrom,omitempty"`
	Archived     int          `json:"archived"`
	Completed    int          `json:"completed"`
	NotCompleted int          `json:"notCompleted"`
	Dropped      int          `json:"dropped"`
	Populated    int          `json:"populated"`
}

type Engine struct {
	activities *repository.Activities
	archive    *repository.Archive
	progress   *repository.Progress
	weekdays   *repository.Weekdays
	markers    *repository.Markers
	sink       ProgressSink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Engine)

// WithProgressSink publishes each written progress entry to sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func NewEngine(store database.Store, opts ...Option) *Engine {
	e := &Engine{
		activities: repository.NewActivities(store),
		archive:    repository.NewArchive(store),
		progress:   repository.NewProgress(store),
		weekdays:   repository.NewWeekdays(store),
		markers:    repository.NewMarkers(store),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lock(uid string) func() {
	e.mu.Lock()
	l, ok := e.locks[uid]
	if !ok {
		l = &sync.Mutex{}
		e.locks[uid] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// LastRun returns the stored rollover marker for uid.
func (e *Engine) LastRun(ctx context.Context, uid string) (models.RolloverMarker, error) {
	return e.markers.Get(ctx, uid)
}

// Run performs the rollover for the day before today. A run for a day
// that is already done, or older than the last archived day, is skipped;
// a run that failed part-way resumes after the last recorded phase. Store errors abort the run and are
// returned so the caller can retry it as a whole.
func (e *Engine) Run(ctx context.Context, uid string, today time.Time) (*Result, error) {
	if uid == "" {
		return nil, ErrNoSession
	}
	unlock := e.lock(uid)
	defer unlock()

	day := timeutil.StartOfDay(today)
	yesterdayKey := timeutil.DateKey(day.AddDate(0, 0, -1))
	todayKey := timeutil.DateKey(day)
	tomorrowWeekday := timeutil.WeekdayName(day.AddDate(0, 0, 1))

	log := slog.With("user", uid, "date", yesterdayKey)
	res := &Result{UserID: uid, Date: yesterdayKey}

	marker, err := e.markers.Get(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("read rollover marker: %w", err)
	}
	if marker.Reached(yesterdayKey, models.PhaseDone) {
		log.Info("rollover already done", "today", todayKey, "last", marker.Date)
		res.Skipped = true
		return res, nil
	}
	if marker.Date == yesterdayKey && marker.Phase != models.PhaseNone {
		res.ResumedFrom = marker.Phase
		log.Info("resuming rollover", "phase", marker.Phase)
	}

	if !marker.Reached(yesterdayKey, models.PhaseAggregated) {
		if err := e.aggregate(ctx, log, uid, yesterdayKey, res); err != nil {
			return nil, err
		}
		if err := e.markers.Set(ctx, uid, yesterdayKey, models.PhaseAggregated); err != nil {
			return nil, fmt.Errorf("write rollover marker: %w", err)
		}
	} else if entry, err := e.progress.Get(ctx, uid, yesterdayKey); err == nil && entry != nil {
		res.Completed = entry.CompletedCount
		res.NotCompleted = entry.NotCompletedCount
	}

	if !marker.Reached(yesterdayKey, models.PhaseCleared) {
		removed, err := e.activities.Clear(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("clear active day: %w", err)
		}
		log.Info("active day cleared", "removed", removed)
		if err := e.markers.Set(ctx, uid, yesterdayKey, models.PhaseCleared); err != nil {
			return nil, fmt.Errorf("write rollover marker: %w", err)
		}
	}

	scheduled, err := e.weekdays.Get(ctx, uid, tomorrowWeekday)
	if err != nil {
		return nil, fmt.Errorf("read %s activities: %w", tomorrowWeekday, err)
	}
	inserted, err := e.activities.Replace(ctx, uid, scheduled)
	if err != nil {
		return nil, err
	}
	res.Populated = len(inserted)
	if err := e.markers.Set(ctx, uid, yesterdayKey, models.PhaseDone); err != nil {
		return nil, fmt.Errorf("write rollover marker: %w", err)
	}

	log.Info("rollover complete",
		"weekday", tomorrowWeekday,
		"archived", res.Archived,
		"completed", res.Completed,
		"not_completed", res.NotCompleted,
		"dropped", res.Dropped,
		"populated", res.Populated,
	)
	return res, nil
}

// aggregate archives the Active-Day Set and writes the progress entry.
func (e *Engine) aggregate(ctx context.Context, log *slog.Logger, uid, date string, res *Result) error {
	raws, err := e.activities.Snapshot(ctx, uid)
	if err != nil {
		return fmt.Errorf("read active day: %w", err)
	}
	if len(raws) > 0 {
		if err := e.archive.Put(ctx, uid, date, raws); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	}
	res.Archived = len(raws)

	activities, failures := models.ParseActivities(raws)
	for _, f := range failures {
		log.Warn("dropping malformed activity", "error", f)
	}
	entry, dropped := Aggregate(date, activities)
	for _, err := range dropped {
		log.Warn("dropping completed activity with bad times", "error", err)
	}
	res.Dropped = len(failures) + len(dropped)
	res.Completed = entry.CompletedCount
	res.NotCompleted = entry.NotCompletedCount

	if err := e.progress.Upsert(ctx, uid, entry); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	log.Info("progress written", "completed", entry.CompletedCount, "not_completed", entry.NotCompletedCount)

	if e.sink != nil {
		if err := e.sink.WriteProgress(ctx, uid, entry); err != nil {
			log.Warn("progress sink failed", "error", err)
		}
	}
	return nil
}
