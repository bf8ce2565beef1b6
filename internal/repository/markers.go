package repository

import (
	"context"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
)

// Markers stores the rollover marker at users/{uid}/rollover/state.
type Markers struct {
	store database.Store
}

func NewMarkers(store database.Store) *Markers {
	return &Markers{store: store}
}

func (r *Markers) docPath(uid string) string {
	return userPath(uid, "rollover", "state")
}

// Get returns the zero marker when none is stored.
func (r *Markers) Get(ctx context.Context, uid string) (models.RolloverMarker, error) {
	doc, err := getOptional(ctx, r.store, r.docPath(uid))
	if err != nil || doc == nil {
		return models.RolloverMarker{}, err
	}
	m := models.RolloverMarker{}
	m.Date, _ = doc["date"].(string)
	phase, _ := doc["phase"].(string)
	m.Phase = models.Phase(phase)
	if ts, ok := doc["updatedAt"].(string); ok {
		m.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return m, nil
}

func (r *Markers) Set(ctx context.Context, uid, date string, phase models.Phase) error {
	return r.store.Set(ctx, r.docPath(uid), map[string]any{
		"date":      date,
		"phase":     string(phase),
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	})
}
