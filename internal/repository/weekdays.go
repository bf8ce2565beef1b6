package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// Weekdays holds the Weekday Activity Sets used to repopulate the
// Active-Day Set.
type Weekdays struct {
	store database.Store
}

func NewWeekdays(store database.Store) *Weekdays {
	return &Weekdays{store: store}
}

func (r *Weekdays) docPath(uid, weekday string) (string, error) {
	day, ok := timeutil.NormalizeWeekday(weekday)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, weekday)
	}
	return userPath(uid, "weekday_activities", day), nil
}

// Get returns the activities scheduled for weekday. A missing document
// yields an empty set.
func (r *Weekdays) Get(ctx context.Context, uid, weekday string) ([]models.Activity, error) {
	docPath, err := r.docPath(uid, weekday)
	if err != nil {
		return nil, err
	}
	doc, err := getOptional(ctx, r.store, docPath)
	if err != nil || doc == nil {
		return nil, err
	}
	activities, failures := models.ParseActivities(models.ToMapSlice(doc["activities"]))
	for _, f := range failures {
		slog.Warn("skipping malformed weekday activity", "user", uid, "weekday", weekday, "error", f)
	}
	return activities, nil
}

// Set overwrites the activities scheduled for weekday.
func (r *Weekdays) Set(ctx context.Context, uid, weekday string, activities []models.Activity) error {
	docPath, err := r.docPath(uid, weekday)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, docPath, map[string]any{"activities": models.ActivityDocuments(activities)})
}
