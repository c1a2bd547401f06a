package eventutil

import "github.com/rewired-gh/seismerge/internal/models"

// AssociationState is how a signal detection relates to the events in view.
type AssociationState string

const (
	StateInProgress   AssociationState = "InProgress"
	StateComplete     AssociationState = "Complete"
	StateToWork       AssociationState = "ToWork"
	StateUnassociated AssociationState = "Unassociated"
)

// associates reports whether the event's current hypothesis has a live
// association with the detection's current hypothesis.
func associates(e *models.Event, sd *models.SignalDetection) bool {
	for _, assoc := range e.CurrentEventHypothesis.EventHypothesis.SignalDetectionAssociations {
		if assoc.Rejected {
			continue
		}
		if assoc.SignalDetectionHypothesis.ID == sd.CurrentHypothesis.ID {
			return true
		}
	}
	return false
}

// AssociatedEvents returns the events associated with sd, in events order.
func AssociatedEvents(sd *models.SignalDetection, events []models.Event) []*models.Event {
	var out []*models.Event
	for i := range events {
		if associates(&events[i], sd) {
			out = append(out, &events[i])
		}
	}
	return out
}

// IsAssociatedWithOpenEvent reports whether sd is associated with the open event.
func IsAssociatedWithOpenEvent(sd *models.SignalDetection, openEvent *models.Event) bool {
	if openEvent == nil {
		return false
	}
	return associates(openEvent, sd)
}

// IsComplete reports whether sd is associated with a Complete event.
func IsComplete(sd *models.SignalDetection, events []models.Event) bool {
	for _, e := range AssociatedEvents(sd, events) {
		if e.Status == models.EventStatusComplete {
			return true
		}
	}
	return false
}

// IsUnassociated reports whether no event is associated with sd.
func IsUnassociated(sd *models.SignalDetection, events []models.Event) bool {
	return len(AssociatedEvents(sd, events)) == 0
}

// IsOtherAssociated reports whether sd is associated with some event other than openEventID.
func IsOtherAssociated(sd *models.SignalDetection, events []models.Event, openEventID string) bool {
	for _, e := range AssociatedEvents(sd, events) {
		if e.ID != openEventID {
			return true
		}
	}
	return false
}

// DetectionState classifies sd against the open event and the other events.
func DetectionState(sd *models.SignalDetection, events []models.Event, openEventID string) AssociationState {
	if open, ok := FindEvent(events, openEventID); ok && IsAssociatedWithOpenEvent(sd, open) {
		return StateInProgress
	}
	if IsComplete(sd, events) {
		return StateComplete
	}
	if IsOtherAssociated(sd, events, openEventID) {
		return StateToWork
	}
	return StateUnassociated
}
