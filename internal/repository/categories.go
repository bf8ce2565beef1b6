package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charlie0129/daytracker/internal/database"
)

const defaultsCollection = "defaults/activity_types/activity_types"

var ErrInvalidCategory = errors.New("invalid category name")

// Categories merges a user's own activity types with the shared defaults.
type Categories struct {
	store database.Store
}

func NewCategories(store database.Store) *Categories {
	return &Categories{store: store}
}

func (r *Categories) userCollection(uid string) string {
	return userPath(uid, "activity_types")
}

// List returns the user's categories followed by the defaults, each name
// once, in first-seen order.
func (r *Categories) List(ctx context.Context, uid string) ([]string, error) {
	userSnaps, err := r.store.List(ctx, r.userCollection(uid))
	if err != nil {
		return nil, err
	}
	defaultSnaps, err := r.store.List(ctx, defaultsCollection)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	names := []string{}
	for _, s := range append(userSnaps, defaultSnaps...) {
		name, _ := s.Data["name"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// Add registers a category for the user. The name doubles as document id,
// so adding it twice is harmless.
func (r *Categories) Add(ctx context.Context, uid, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w %q", ErrInvalidCategory, name)
	}
	return r.store.Set(ctx, database.Path(r.userCollection(uid), name), map[string]any{"name": name})
}

// SeedDefaults writes the shared default categories.
func (r *Categories) SeedDefaults(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := r.store.Set(ctx, database.Path(defaultsCollection, name), map[string]any{"name": name}); err != nil {
			return err
		}
	}
	return nil
}
