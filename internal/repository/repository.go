// Package repository maps the domain types onto document store paths.
//
// Layout, per user:
//
//	users/{uid}                          user registry entry
//	users/{uid}/today/{id}               Active-Day Set
//	users/{uid}/activities/{date}        archive, field "list"
//	users/{uid}/progress/{date}          progress entries
//	users/{uid}/day_templates/{id}
//	users/{uid}/week_templates/{id}
//	users/{uid}/weekday_activities/{Weekday}, field "activities"
//	users/{uid}/activity_types/{name}
//	users/{uid}/rollover/state           rollover marker
//	defaults/activity_types/activity_types/{name}
//
// Read paths return nil, nil for a missing document.
package repository

import (
	"context"
	"errors"

	"github.com/charlie0129/daytracker/internal/database"
)

var (
	// ErrNotFound is returned by update operations whose target does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidWeekday rejects names other than "Monday".."Sunday".
	ErrInvalidWeekday = errors.New("invalid weekday")
)

const usersCollection = "users"

func userPath(uid string, segments ...string) string {
	return database.Path(append([]string{usersCollection, uid}, segments...)...)
}

// getOptional reads a document and maps a missing one to nil, nil.
func getOptional(ctx context.Context, store database.Store, docPath string) (database.Document, error) {
	doc, err := store.Get(ctx, docPath)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// exists reports whether docPath is present.
func exists(ctx context.Context, store database.Store, docPath string) (bool, error) {
	doc, err := getOptional(ctx, store, docPath)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// Repositories bundles every repository over a single store.
type Repositories struct {
	Activities *Activities
	Archive    *Archive
	Progress   *Progress
	Templates  *Templates
	Weekdays   *Weekdays
	Categories *Categories
	Users      *Users
	Markers    *Markers
}

func New(store database.Store) *Repositories {
	return &Repositories{
		Activities: NewActivities(store),
		Archive:    NewArchive(store),
		Progress:   NewProgress(store),
		Templates:  NewTemplates(store),
		Weekdays:   NewWeekdays(store),
		Categories: NewCategories(store),
		Users:      NewUsers(store),
		Markers:    NewMarkers(store),
	}
}
