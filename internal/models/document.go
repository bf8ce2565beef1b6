package models

import (
	"fmt"
	"math"
	"sort"
)

// Field names of the raw activity map.
const (
	FieldID          = "id"
	FieldCategory    = "category"
	FieldDescription = "description"
	FieldStartTime   = "startTime"
	FieldEndTime     = "endTime"
	FieldScore       = "score"
	FieldStatus      = "status"
)

// ParseError describes a raw activity record that could not be turned
// into an Activity.
type ParseError struct {
	Index  int
	ID     string
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("activity %d (%s): field %s: %s", e.Index, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("activity %d: field %s: %s", e.Index, e.Field, e.Reason)
}

// ParseActivity converts a raw document into an Activity.
//
// category, startTime and endTime are required strings. score falls back to
// 0 when absent or not an integral number, status to PENDING when absent.
// An unrecognised status is an error.
func ParseActivity(raw map[string]any) (Activity, error) {
	id, _ := raw[FieldID].(string)
	fail := func(field, reason string) (Activity, error) {
		return Activity{}, &ParseError{ID: id, Field: field, Reason: reason}
	}
	if raw == nil {
		return fail("*", "nil record")
	}

	a := Activity{ID: id, Status: StatusPending}
	var ok bool
	if a.Category, ok = raw[FieldCategory].(string); !ok {
		return fail(FieldCategory, "missing or not a string")
	}
	if a.StartTime, ok = raw[FieldStartTime].(string); !ok {
		return fail(FieldStartTime, "missing or not a string")
	}
	if a.EndTime, ok = raw[FieldEndTime].(string); !ok {
		return fail(FieldEndTime, "missing or not a string")
	}
	a.Description, _ = raw[FieldDescription].(string)
	if score, ok := toInt(raw[FieldScore]); ok {
		a.Score = score
	}
	if s, ok := raw[FieldStatus].(string); ok {
		status, err := ParseStatus(s)
		if err != nil {
			return fail(FieldStatus, err.Error())
		}
		a.Status = status
	}
	return a, nil
}

// ParseActivities parses every record, returning the valid activities in
// input order and one ParseError per rejected record.
func ParseActivities(raws []map[string]any) ([]Activity, []*ParseError) {
	var (
		activities []Activity
		failures   []*ParseError
	)
	for i, raw := range raws {
		a, err := ParseActivity(raw)
		if err != nil {
			pe := err.(*ParseError)
			pe.Index = i
			failures = append(failures, pe)
			continue
		}
		activities = append(activities, a)
	}
	return activities, failures
}

// Document returns the raw map stored for a.
func (a Activity) Document() map[string]any {
	status := a.Status
	if status == "" {
		status = StatusPending
	}
	return map[string]any{
		FieldID:          a.ID,
		FieldCategory:    a.Category,
		FieldDescription: a.Description,
		FieldStartTime:   a.StartTime,
		FieldEndTime:     a.EndTime,
		FieldScore:       a.Score,
		FieldStatus:      string(status),
	}
}

// ActivityDocuments converts a slice of activities to raw maps.
func ActivityDocuments(activities []Activity) []any {
	out := make([]any, 0, len(activities))
	for _, a := range activities {
		out = append(out, a.Document())
	}
	return out
}

// Document returns the raw map stored for the progress entry.
func (p ProgressEntry) Document() map[string]any {
	return map[string]any{
		"date":                         p.Date,
		"completedCount":               p.CompletedCount,
		"notCompletedCount":            p.NotCompletedCount,
		"categoryWiseTime":             floatMapDocument(p.CategoryWiseTime),
		"categoryWiseEffortScaledTime": floatMapDocument(p.CategoryWiseEffortScaledTime),
	}
}

// ProgressEntryFromDocument decodes a stored progress entry. Missing
// numeric fields read as zero.
func ProgressEntryFromDocument(doc map[string]any) (ProgressEntry, error) {
	date, ok := doc["date"].(string)
	if !ok || date == "" {
		return ProgressEntry{}, fmt.Errorf("progress entry without date")
	}
	p := ProgressEntry{
		Date:                         date,
		CategoryWiseTime:             toFloatMap(doc["categoryWiseTime"]),
		CategoryWiseEffortScaledTime: toFloatMap(doc["categoryWiseEffortScaledTime"]),
	}
	p.CompletedCount, _ = toInt(doc["completedCount"])
	p.NotCompletedCount, _ = toInt(doc["notCompletedCount"])
	return p, nil
}

// Document returns the raw map stored for the archive entry.
func (e ArchiveEntry) Document() map[string]any {
	list := make([]any, 0, len(e.List))
	for _, raw := range e.List {
		list = append(list, raw)
	}
	return map[string]any{"list": list}
}

// Document returns the raw map stored for the day template.
func (t DayTemplate) Document() map[string]any {
	return map[string]any{
		"templateId": t.TemplateID,
		"name":       t.Name,
		"activities": ActivityDocuments(t.Activities),
	}
}

// DayTemplateFromDocument decodes a stored day template. Malformed
// activities are dropped.
func DayTemplateFromDocument(id string, doc map[string]any) DayTemplate {
	name, _ := doc["name"].(string)
	activities, _ := ParseActivities(ToMapSlice(doc["activities"]))
	return DayTemplate{TemplateID: id, Name: name, Activities: activities}
}

// Document returns the raw map stored for the week template.
func (t WeekTemplate) Document() map[string]any {
	week := make(map[string]any, len(t.WeekMap))
	for day, activities := range t.WeekMap {
		week[day] = ActivityDocuments(activities)
	}
	return map[string]any{
		"templateId": t.TemplateID,
		"name":       t.Name,
		"weekMap":    week,
	}
}

// WeekTemplateFromDocument decodes a stored week template. Malformed
// activities are dropped.
func WeekTemplateFromDocument(id string, doc map[string]any) WeekTemplate {
	name, _ := doc["name"].(string)
	t := WeekTemplate{TemplateID: id, Name: name, WeekMap: map[string][]Activity{}}
	week, _ := doc["weekMap"].(map[string]any)
	for day, list := range week {
		activities, _ := ParseActivities(ToMapSlice(list))
		t.WeekMap[day] = activities
	}
	return t
}

// Weekdays returns the week template's weekday keys in a stable order.
func (t WeekTemplate) Weekdays() []string {
	days := make([]string, 0, len(t.WeekMap))
	for day := range t.WeekMap {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// ToMapSlice converts a decoded array field into raw maps, skipping
// elements that are not objects.
func ToMapSlice(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toFloatMap(v any) map[string]float64 {
	out := map[string]float64{}
	m, _ := v.(map[string]any)
	for k, raw := range m {
		if f, ok := toFloat(raw); ok {
			out[k] = f
		}
	}
	return out
}

func floatMapDocument(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
