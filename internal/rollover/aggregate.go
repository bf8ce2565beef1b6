package rollover

import (
	"fmt"

	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

const maxScore = 10

// Aggregate builds the progress entry for date from parsed activities.
//
// COMPLETED activities add their duration, and duration scaled by
// score/10, to their category. NOT_COMPLETED activities only bump the
// not-completed count. PENDING activities count towards nothing. A
// COMPLETED activity whose times do not parse still counts as completed;
// it is returned in dropped and adds no time.
func Aggregate(date string, activities []models.Activity) (entry models.ProgressEntry, dropped []error) {
	entry = models.ProgressEntry{
		Date:                         date,
		CategoryWiseTime:             map[string]float64{},
		CategoryWiseEffortScaledTime: map[string]float64{},
	}

	for _, a := range activities {
		switch a.Status {
		case models.StatusCompleted:
			entry.CompletedCount++
			hours, err := timeutil.Duration(a.StartTime, a.EndTime)
			if err != nil {
				dropped = append(dropped, fmt.Errorf("activity %s: %w", a.ID, err))
				continue
			}
			score := clampScore(a.Score)
			entry.CategoryWiseTime[a.Category] += hours
			entry.CategoryWiseEffortScaledTime[a.Category] += float64(score) * hours / maxScore
		case models.StatusNotCompleted:
			entry.NotCompletedCount++
		}
	}
	return entry, dropped
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
