package models

import "fmt"

// IntervalStatus is the status of a workflow stage or activity interval.
type IntervalStatus string

const (
	IntervalNotStarted  IntervalStatus = "NotStarted"
	IntervalInProgress  IntervalStatus = "InProgress"
	IntervalNotComplete IntervalStatus = "NotComplete"
	IntervalComplete    IntervalStatus = "Complete"
)

// Valid reports whether s is a known interval status.
func (s IntervalStatus) Valid() bool {
	switch s {
	case IntervalNotStarted, IntervalInProgress, IntervalNotComplete, IntervalComplete:
		return true
	}
	return false
}

// ActivityInterval is the slice of a processing activity the analyst marks.
type ActivityInterval struct {
	ID             string         `json:"id"`
	Status         IntervalStatus `json:"status"`
	ActiveAnalysts []Analyst      `json:"activeAnalysts"`
	CompletedBy    *Analyst       `json:"completedBy,omitempty"`
}

// MarkActivityIntervalInput is the input of the markActivityInterval mutation.
type MarkActivityIntervalInput struct {
	Status          IntervalStatus `json:"status"`
	AnalystUserName string         `json:"analystUserName"`
}

// ValidateActivityTransition enforces the activity interval transition rules.
// NotStarted and NotComplete cannot go to Complete, and NotStarted and Complete
// cannot go to NotComplete. Every other transition is allowed.
func ValidateActivityTransition(from, to IntervalStatus) error {
	if !to.Valid() {
		return fmt.Errorf("interval status %q is not recognized", to)
	}
	switch to {
	case IntervalComplete:
		if from == IntervalNotStarted || from == IntervalNotComplete {
			return fmt.Errorf("invalid activity status transition from %s to %s", from, to)
		}
	case IntervalNotComplete:
		if from == IntervalNotStarted || from == IntervalComplete {
			return fmt.Errorf("invalid activity status transition from %s to %s", from, to)
		}
	}
	return nil
}
