package repository

import (
	"context"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
)

// Archive stores the raw Active-Day snapshots taken at rollover.
type Archive struct {
	store database.Store
}

func NewArchive(store database.Store) *Archive {
	return &Archive{store: store}
}

func (r *Archive) docPath(uid, date string) string {
	return userPath(uid, "activities", date)
}

// Put overwrites the archive for date with list.
func (r *Archive) Put(ctx context.Context, uid, date string, list []map[string]any) error {
	entry := models.ArchiveEntry{Date: date, List: list}
	return r.store.Set(ctx, r.docPath(uid, date), entry.Document())
}

// Get returns the archive for date, or nil when none exists.
func (r *Archive) Get(ctx context.Context, uid, date string) (*models.ArchiveEntry, error) {
	doc, err := getOptional(ctx, r.store, r.docPath(uid, date))
	if err != nil || doc == nil {
		return nil, err
	}
	return &models.ArchiveEntry{Date: date, List: models.ToMapSlice(doc["list"])}, nil
}
