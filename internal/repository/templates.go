package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
)

// Templates provides CRUD for day and week templates.
type Templates struct {
	store database.Store
}

func NewTemplates(store database.Store) *Templates {
	return &Templates{store: store}
}

func (r *Templates) dayCollection(uid string) string  { return userPath(uid, "day_templates") }
func (r *Templates) weekCollection(uid string) string { return userPath(uid, "week_templates") }

// AddDay stores t under a new id and returns it with TemplateID set.
func (r *Templates) AddDay(ctx context.Context, uid string, t models.DayTemplate) (models.DayTemplate, error) {
	t.TemplateID = r.store.NewID()
	if err := r.store.Set(ctx, database.Path(r.dayCollection(uid), t.TemplateID), t.Document()); err != nil {
		return models.DayTemplate{}, err
	}
	return t, nil
}

func (r *Templates) UpdateDay(ctx context.Context, uid string, t models.DayTemplate) error {
	docPath := database.Path(r.dayCollection(uid), t.TemplateID)
	if err := r.mustExist(ctx, docPath, t.TemplateID); err != nil {
		return err
	}
	return r.store.Set(ctx, docPath, t.Document())
}

// GetDay returns nil, nil when the template does not exist.
func (r *Templates) GetDay(ctx context.Context, uid, id string) (*models.DayTemplate, error) {
	doc, err := getOptional(ctx, r.store, database.Path(r.dayCollection(uid), id))
	if err != nil || doc == nil {
		return nil, err
	}
	t := models.DayTemplateFromDocument(id, doc)
	return &t, nil
}

func (r *Templates) ListDay(ctx context.Context, uid string) ([]models.DayTemplate, error) {
	snaps, err := r.store.List(ctx, r.dayCollection(uid))
	if err != nil {
		return nil, err
	}
	templates := make([]models.DayTemplate, 0, len(snaps))
	for _, s := range snaps {
		templates = append(templates, models.DayTemplateFromDocument(s.ID, s.Data))
	}
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func (r *Templates) DeleteDay(ctx context.Context, uid, id string) error {
	return r.store.Delete(ctx, database.Path(r.dayCollection(uid), id))
}

// AddWeek stores t under a new id and returns it with TemplateID set.
func (r *Templates) AddWeek(ctx context.Context, uid string, t models.WeekTemplate) (models.WeekTemplate, error) {
	t.TemplateID = r.store.NewID()
	if err := r.store.Set(ctx, database.Path(r.weekCollection(uid), t.TemplateID), t.Document()); err != nil {
		return models.WeekTemplate{}, err
	}
	return t, nil
}

func (r *Templates) UpdateWeek(ctx context.Context, uid string, t models.WeekTemplate) error {
	docPath := database.Path(r.weekCollection(uid), t.TemplateID)
	if err := r.mustExist(ctx, docPath, t.TemplateID); err != nil {
		return err
	}
	return r.store.Set(ctx, docPath, t.Document())
}

// GetWeek returns nil, nil when the template does not exist.
func (r *Templates) GetWeek(ctx context.Context, uid, id string) (*models.WeekTemplate, error) {
	doc, err := getOptional(ctx, r.store, database.Path(r.weekCollection(uid), id))
	if err != nil || doc == nil {
		return nil, err
	}
	t := models.WeekTemplateFromDocument(id, doc)
	return &t, nil
}

func (r *Templates) ListWeek(ctx context.Context, uid string) ([]models.WeekTemplate, error) {
	snaps, err := r.store.List(ctx, r.weekCollection(uid))
	if err != nil {
		return nil, err
	}
	templates := make([]models.WeekTemplate, 0, len(snaps))
	for _, s := range snaps {
		templates = append(templates, models.WeekTemplateFromDocument(s.ID, s.Data))
	}
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func (r *Templates) DeleteWeek(ctx context.Context, uid, id string) error {
	return r.store.Delete(ctx, database.Path(r.weekCollection(uid), id))
}

func (r *Templates) mustExist(ctx context.Context, docPath, id string) error {
	if id == "" {
		return fmt.Errorf("template without id: %w", ErrNotFound)
	}
	ok, err := exists(ctx, r.store, docPath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return nil
}
