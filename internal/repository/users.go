package repository

import (
	"context"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// Users is the registry of users the scheduled rollover runs for.
type Users struct {
	store   database.Store
	markers *Markers
}

func NewUsers(store database.Store) *Users {
	return &Users{store: store, markers: NewMarkers(store)}
}

// Touch registers uid and records when it was last seen. A user without a
// rollover marker is registered with the day before today marked done, so
// the first rollover it takes part in archives today and not an earlier day.
func (r *Users) Touch(ctx context.Context, uid string, today time.Time) error {
	registered, err := exists(ctx, r.store, database.Path(usersCollection, uid))
	if err != nil {
		return err
	}
	if !registered {
		marker, err := r.markers.Get(ctx, uid)
		if err != nil {
			return err
		}
		if marker.Date == "" {
			yesterday := timeutil.DateKey(timeutil.StartOfDay(today).AddDate(0, 0, -1))
			if err := r.markers.Set(ctx, uid, yesterday, models.PhaseDone); err != nil {
				return err
			}
		}
	}
	return r.store.Set(ctx, database.Path(usersCollection, uid), map[string]any{
		"userId":   uid,
		"lastSeen": time.Now().UTC().Format(time.RFC3339),
	})
}

// List returns the ids of all registered users.
func (r *Users) List(ctx context.Context) ([]string, error) {
	snaps, err := r.store.List(ctx, usersCollection)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.ID)
	}
	return ids, nil
}
