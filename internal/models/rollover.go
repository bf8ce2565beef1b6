package models

import "time"

// Phase records how far the rollover for a date got.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseAggregated Phase = "aggregated" // archive and progress written
	PhaseCleared    Phase = "cleared"    // Active-Day Set emptied
	PhaseDone       Phase = "done"       // Active-Day Set repopulated
)

func (p Phase) rank() int {
	switch p {
	case PhaseAggregated:
		return 1
	case PhaseCleared:
		return 2
	case PhaseDone:
		return 3
	}
	return 0
}

// RolloverMarker is the per-user record of the latest archived day and
// the phase its rollover reached. Dates only move forward.
type RolloverMarker struct {
	Date      string    `json:"date"`
	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reached reports whether the rollover for date got to phase p. A marker
// for a later date counts as every phase of date done.
func (m RolloverMarker) Reached(date string, p Phase) bool {
	switch {
	case m.Date == "":
		return false
	case m.Date > date:
		return true
	case m.Date < date:
		return false
	}
	return m.Phase.rank() >= p.rank()
}
