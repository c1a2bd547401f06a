// Package eventutil derives analyst-facing values from merged event and
// signal detection state: the latest location solution set, the preferred
// location, which event to open, association state of detections, feature
// measurement lookups, and phase alignment offsets.
//
// Every function here is a lookup over immutable inputs. Misses are reported
// with a false second return value rather than an error.
package eventutil

import "github.com/rewired-gh/seismerge/internal/models"

// DefaultRestraintOrder is the depth restraint preference used when none is configured.
var DefaultRestraintOrder = []models.DepthRestraintType{
	models.DepthRestraintUnrestrained,
	models.DepthRestraintFixedAtSurface,
	models.DepthRestraintFixedAtDepth,
}

// LatestLocationSolutionSet returns the set with the highest count.
// Ties go to the earliest set in sets.
func LatestLocationSolutionSet(sets []models.LocationSolutionSet) (*models.LocationSolutionSet, bool) {
	if len(sets) == 0 {
		return nil, false
	}
	latest := &sets[0]
	for i := 1; i < len(sets); i++ {
		if sets[i].Count > latest.Count {
			latest = &sets[i]
		}
	}
	return latest, true
}

// PreferredLocationID resolves the preferred location solution of the
// hypothesis' latest location solution set.
func PreferredLocationID(hyp *models.EventHypothesis, order []models.DepthRestraintType) (string, bool) {
	if hyp == nil {
		return "", false
	}
	set, ok := LatestLocationSolutionSet(hyp.LocationSolutionSets)
	if !ok {
		return "", false
	}
	return PreferredLocationIDFromSet(set, order)
}

// PreferredLocationIDFromSet returns the first solution whose depth restraint
// matches the earliest entry in order. When nothing matches it falls back to
// the first solution in the set.
func PreferredLocationIDFromSet(set *models.LocationSolutionSet, order []models.DepthRestraintType) (string, bool) {
	if set == nil || len(set.LocationSolutions) == 0 {
		return "", false
	}
	for _, restraint := range order {
		for _, ls := range set.LocationSolutions {
			if ls.LocationRestraint.DepthRestraintType == restraint {
				return ls.ID, true
			}
		}
	}
	return set.LocationSolutions[0].ID, true
}

// PreferredLocationTime is the origin time of the event's preferred location solution.
func PreferredLocationTime(e *models.Event) float64 {
	return e.CurrentEventHypothesis.EventHypothesis.PreferredLocationSolution.LocationSolution.Location.Time
}

// LocationSolutionByID finds a solution in the hypothesis' latest set.
func LocationSolutionByID(hyp *models.EventHypothesis, id string) (*models.LocationSolution, bool) {
	if hyp == nil {
		return nil, false
	}
	set, ok := LatestLocationSolutionSet(hyp.LocationSolutionSets)
	if !ok {
		return nil, false
	}
	for i := range set.LocationSolutions {
		if set.LocationSolutions[i].ID == id {
			return &set.LocationSolutions[i], true
		}
	}
	return nil, false
}

// FindEvent returns the event with the given id.
func FindEvent(events []models.Event, id string) (*models.Event, bool) {
	for i := range events {
		if events[i].ID == id {
			return &events[i], true
		}
	}
	return nil, false
}
