// Package planner applies day and week templates to a user's weekly
// schedule.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/repository"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

// ErrInvalidWeekday is returned for weekday names other than "Monday".."Sunday".
var ErrInvalidWeekday = repository.ErrInvalidWeekday

// Applied reports what an application changed.
type Applied struct {
	Weekdays []string `json:"weekdays"`
	// TodayReplaced is set when the current weekday was among those written
	// and the Active-Day Set was replaced immediately.
	TodayReplaced bool              `json:"todayReplaced"`
	Today         []models.Activity `json:"today,omitempty"`
}

type Planner struct {
	weekdays   *repository.Weekdays
	activities *repository.Activities
	now        func() time.Time
	loc        *time.Location
}

type Option func(*Planner)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

func New(store database.Store, loc *time.Location, opts ...Option) *Planner {
	if loc == nil {
		loc = time.Local
	}
	p := &Planner{
		weekdays:   repository.NewWeekdays(store),
		activities: repository.NewActivities(store),
		now:        time.Now,
		loc:        loc,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ApplyDayTemplate writes t's activities to each of weekdays.
func (p *Planner) ApplyDayTemplate(ctx context.Context, uid string, t models.DayTemplate, weekdays []string) (*Applied, error) {
	return p.Apply(ctx, uid, models.DayApplication{Template: t, Weekdays: weekdays})
}

// ApplyWeekTemplate writes every weekday list of t.
func (p *Planner) ApplyWeekTemplate(ctx context.Context, uid string, t models.WeekTemplate) (*Applied, error) {
	return p.Apply(ctx, uid, t)
}

// Apply overwrites the Weekday Activity Set of every weekday the template
// names. If one of them is the current weekday the Active-Day Set is
// replaced as well. All weekday names are validated before anything is
// written.
func (p *Planner) Apply(ctx context.Context, uid string, tmpl models.Template) (*Applied, error) {
	var plan map[string][]models.Activity
	var order []string

	switch t := tmpl.(type) {
	case models.DayApplication:
		plan = make(map[string][]models.Activity, len(t.Weekdays))
		for _, day := range t.Weekdays {
			plan[day] = t.Template.Activities
			order = append(order, day)
		}
	case models.WeekTemplate:
		plan = t.WeekMap
		order = t.Weekdays()
	case nil:
		return nil, fmt.Errorf("apply template: nil template")
	default:
		return nil, fmt.Errorf("apply template: unsupported kind %q", tmpl.Kind())
	}

	canonical := make([]string, 0, len(order))
	seen := map[string]bool{}
	activitiesFor := map[string][]models.Activity{}
	for _, day := range order {
		name, ok := timeutil.NormalizeWeekday(day)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, day)
		}
		activitiesFor[name] = plan[day]
		if !seen[name] {
			seen[name] = true
			canonical = append(canonical, name)
		}
	}

	current := timeutil.WeekdayName(p.now().In(p.loc))
	applied := &Applied{Weekdays: canonical}
	for _, day := range canonical {
		if err := p.weekdays.Set(ctx, uid, day, activitiesFor[day]); err != nil {
			return nil, fmt.Errorf("write %s: %w", day, err)
		}
		if day != current {
			continue
		}
		inserted, err := p.activities.Replace(ctx, uid, activitiesFor[day])
		if err != nil {
			return nil, err
		}
		applied.TodayReplaced = true
		applied.Today = inserted
	}

	slog.Info("template applied", "user", uid, "kind", tmpl.Kind(), "weekdays", canonical, "today_replaced", applied.TodayReplaced)
	return applied, nil
}
