package models

import (
	"fmt"
	"strings"
)

// Status is the completion state of a scheduled activity.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusCompleted    Status = "COMPLETED"
	StatusNotCompleted Status = "NOT_COMPLETED"
)

// ParseStatus accepts the enum names stored with each activity.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusCompleted, StatusNotCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Activity is one time block in a day's schedule
type Activity struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	StartTime   string `json:"startTime"` // "09:00 AM"
	EndTime     string `json:"endTime"`
	Description string `json:"description"`
	Score       int    `json:"score"` // 0-10, 0 = unscored
	Status      Status `json:"status"`
}

// Fresh returns a copy of a that is ready to be inserted into the
// Active-Day Set under id: pending and unscored.
func (a Activity) Fresh(id string) Activity {
	a.ID = id
	a.Status = StatusPending
	a.Score = 0
	return a
}

// ArchiveEntry is the raw snapshot of a day's activities taken at rollover.
type ArchiveEntry struct {
	Date string           `json:"date"`
	List []map[string]any `json:"list"`
}

// ProgressEntry aggregates one archived day.
type ProgressEntry struct {
	Date                         string             `json:"date"`
	CompletedCount               int                `json:"completedCount"`
	NotCompletedCount            int                `json:"notCompletedCount"`
	CategoryWiseTime             map[string]float64 `json:"categoryWiseTime"`
	CategoryWiseEffortScaledTime map[string]float64 `json:"categoryWiseEffortScaledTime"`
}

// DayTemplate is a reusable list of activities for a single day.
type DayTemplate struct {
	TemplateID string     `json:"templateId"`
	Name       string     `json:"name"`
	Activities []Activity `json:"activities"`
}

// WeekTemplate assigns activity lists to weekday names.
type WeekTemplate struct {
	TemplateID string                `json:"templateId"`
	Name       string                `json:"name"`
	WeekMap    map[string][]Activity `json:"weekMap"`
}

// TemplateKind tags the Template variants.
type TemplateKind string

const (
	KindDay  TemplateKind = "day"
	KindWeek TemplateKind = "week"
)

// Template is either a DayApplication or a WeekTemplate. The set is closed:
// the unexported method keeps other packages from adding variants.
type Template interface {
	Kind() TemplateKind
	template()
}

// DayApplication is a day template together with the weekdays it is applied to.
type DayApplication struct {
	Template DayTemplate
	Weekdays []string
}

func (DayApplication) Kind() TemplateKind { return KindDay }
func (DayApplication) template()          {}

func (WeekTemplate) Kind() TemplateKind { return KindWeek }
func (WeekTemplate) template()          {}

// TimeRange selects how far back progress queries look.
type TimeRange string

const (
	RangeWeek  TimeRange = "week"
	RangeMonth TimeRange = "month"
	RangeYear  TimeRange = "year"
)

// ParseTimeRange accepts "week", "month" or "year" in any case.
func ParseTimeRange(s string) (TimeRange, error) {
	switch r := TimeRange(strings.ToLower(strings.TrimSpace(s))); r {
	case RangeWeek, RangeMonth, RangeYear:
		return r, nil
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// LookbackDays is the number of days before today included in the range.
func (r TimeRange) LookbackDays() int {
	switch r {
	case RangeMonth:
		return 29
	case RangeYear:
		return 364
	default:
		return 6
	}
}
