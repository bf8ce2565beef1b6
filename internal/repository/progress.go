package repository

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// Progress reads and writes per-day progress entries.
type Progress struct {
	store database.Store
}

func NewProgress(store database.Store) *Progress {
	return &Progress{store: store}
}

func (r *Progress) collection(uid string) string {
	return userPath(uid, "progress")
}

// Get returns the entry for date, or nil when none was written.
func (r *Progress) Get(ctx context.Context, uid, date string) (*models.ProgressEntry, error) {
	doc, err := getOptional(ctx, r.store, database.Path(r.collection(uid), date))
	if err != nil || doc == nil {
		return nil, err
	}
	entry, err := models.ProgressEntryFromDocument(doc)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Upsert writes entry under its date, replacing any previous entry.
func (r *Progress) Upsert(ctx context.Context, uid string, entry models.ProgressEntry) error {
	return r.store.Set(ctx, database.Path(r.collection(uid), entry.Date), entry.Document())
}

// ListRange returns the entries dated within the last rng.LookbackDays()
// days up to and including today, oldest first. Entries whose date does
// not parse are skipped.
func (r *Progress) ListRange(ctx context.Context, uid string, rng models.TimeRange, today time.Time) ([]models.ProgressEntry, error) {
	snaps, err := r.store.List(ctx, r.collection(uid))
	if err != nil {
		return nil, err
	}

	end := timeutil.StartOfDay(today)
	start := end.AddDate(0, 0, -rng.LookbackDays())

	entries := []models.ProgressEntry{}
	for _, s := range snaps {
		entry, err := models.ProgressEntryFromDocument(s.Data)
		if err != nil {
			slog.Warn("skipping progress entry", "user", uid, "id", s.ID, "error", err)
			continue
		}
		day, err := timeutil.ParseDateKey(entry.Date, today.Location())
		if err != nil {
			slog.Warn("skipping progress entry with bad date", "user", uid, "date", entry.Date)
			continue
		}
		if day.Before(start) || day.After(end) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date < entries[j].Date
	})
	return entries, nil
}
