package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// Activities manages a user's Active-Day Set.
type Activities struct {
	store database.Store
}

func NewActivities(store database.Store) *Activities {
	return &Activities{store: store}
}

func (r *Activities) collection(uid string) string {
	return userPath(uid, "today")
}

// Snapshot returns the raw documents of the Active-Day Set. The document
// id is filled in when the stored record lacks one.
func (r *Activities) Snapshot(ctx context.Context, uid string) ([]map[string]any, error) {
	snaps, err := r.store.List(ctx, r.collection(uid))
	if err != nil {
		return nil, err
	}
	raws := make([]map[string]any, 0, len(snaps))
	for _, s := range snaps {
		if id, _ := s.Data[models.FieldID].(string); id == "" {
			s.Data[models.FieldID] = s.ID
		}
		raws = append(raws, s.Data)
	}
	return raws, nil
}

// List returns the Active-Day Set ordered by start time. Malformed records
// are logged and left out.
func (r *Activities) List(ctx context.Context, uid string) ([]models.Activity, error) {
	raws, err := r.Snapshot(ctx, uid)
	if err != nil {
		return nil, err
	}
	activities, failures := models.ParseActivities(raws)
	for _, f := range failures {
		slog.Warn("skipping malformed activity", "user", uid, "error", f)
	}
	SortByStartTime(activities)
	return activities, nil
}

// Add stores a new activity under a store-assigned id.
func (r *Activities) Add(ctx context.Context, uid string, a models.Activity) (models.Activity, error) {
	a.ID = r.store.NewID()
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	if err := r.store.Set(ctx, database.Path(r.collection(uid), a.ID), a.Document()); err != nil {
		return models.Activity{}, err
	}
	return a, nil
}

// Update overwrites an existing activity. ErrNotFound is returned when the
// id is not in the Active-Day Set.
func (r *Activities) Update(ctx context.Context, uid string, a models.Activity) error {
	if a.ID == "" {
		return fmt.Errorf("update activity: %w", ErrNotFound)
	}
	docPath := database.Path(r.collection(uid), a.ID)
	ok, err := exists(ctx, r.store, docPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("activity %s: %w", a.ID, ErrNotFound)
	}
	if a.Status == "" {
		a.Status = models.StatusPending
	}
	return r.store.Set(ctx, docPath, a.Document())
}

func (r *Activities) Delete(ctx context.Context, uid, id string) error {
	return r.store.Delete(ctx, database.Path(r.collection(uid), id))
}

// Clear deletes every document in the Active-Day Set and returns how many
// were removed. A failure leaves the remaining documents in place; calling
// Clear again finishes the job.
func (r *Activities) Clear(ctx context.Context, uid string) (int, error) {
	snaps, err := r.store.List(ctx, r.collection(uid))
	if err != nil {
		return 0, err
	}
	for i, s := range snaps {
		if err := r.store.Delete(ctx, database.Path(r.collection(uid), s.ID)); err != nil {
			return i, err
		}
	}
	return len(snaps), nil
}

// Populate inserts a pending, unscored copy of each activity under a fresh
// id and returns the inserted copies.
func (r *Activities) Populate(ctx context.Context, uid string, activities []models.Activity) ([]models.Activity, error) {
	inserted := make([]models.Activity, 0, len(activities))
	for _, a := range activities {
		fresh := a.Fresh(r.store.NewID())
		if err := r.store.Set(ctx, database.Path(r.collection(uid), fresh.ID), fresh.Document()); err != nil {
			return inserted, err
		}
		inserted = append(inserted, fresh)
	}
	return inserted, nil
}

// Replace clears the Active-Day Set and populates it from activities.
// Because the set is cleared first, repeating a partially failed Replace
// never leaves duplicates behind.
func (r *Activities) Replace(ctx context.Context, uid string, activities []models.Activity) ([]models.Activity, error) {
	if _, err := r.Clear(ctx, uid); err != nil {
		return nil, fmt.Errorf("clear active day: %w", err)
	}
	inserted, err := r.Populate(ctx, uid, activities)
	if err != nil {
		return inserted, fmt.Errorf("populate active day: %w", err)
	}
	return inserted, nil
}

// SortByStartTime orders activities by parsed start time. Entries whose
// start time does not parse keep their relative order at the end.
func SortByStartTime(activities []models.Activity) {
	key := func(a models.Activity) int {
		t, err := timeutil.ParseTimeOfDay(a.StartTime)
		if err != nil {
			return 24 * 60
		}
		return t.Minutes()
	}
	sort.SliceStable(activities, func(i, j int) bool {
		return key(activities[i]) < key(activities[j])
	})
}
