package eventutil

import (
	"context"
	"sort"

	"github.com/rewired-gh/seismerge/internal/models"
)

// EventUpdater sends the updateEvents mutation.
type EventUpdater interface {
	UpdateEvents(ctx context.Context, eventIDs []string, input models.UpdateEventInput) error
}

// Opener decides which event is open for refinement and tells the gateway
// when an event enters refinement.
type Opener struct {
	Updater         EventUpdater
	AnalystUserName string

	// SetOpenEventID records the open event locally. It is called whenever
	// the requested event exists, whether or not a mutation was sent.
	SetOpenEventID func(id string)

	// OnError receives mutation failures. The local open still happens.
	OnError func(eventID string, err error)
}

// OpenResult describes what OpenEvent did.
type OpenResult struct {
	Found        bool
	MutationSent bool
	Err          error
}

// OpenEvent opens eventID. When the analyst is refining events and the event
// has a processing stage but is not yet open for refinement, an updateEvents
// mutation marks it open and adds the analyst to its active analysts.
func (o *Opener) OpenEvent(ctx context.Context, events []models.Event, eventID string, activity models.AnalystActivity) OpenResult {
	event, ok := FindEvent(events, eventID)
	if !ok {
		return OpenResult{}
	}

	result := OpenResult{Found: true}
	stageID := event.CurrentEventHypothesis.ProcessingStageID
	if activity == models.ActivityEventRefinement && stageID != "" && event.Status != models.EventStatusOpenForRefinement {
		input := models.UpdateEventInput{
			ProcessingStageID:      stageID,
			Status:                 models.EventStatusOpenForRefinement,
			ActiveAnalystUserNames: append(event.ActiveAnalystUserNames(), o.AnalystUserName),
		}
		result.MutationSent = true
		if o.Updater != nil {
			result.Err = o.Updater.UpdateEvents(ctx, []string{event.ID}, input)
		}
		if result.Err != nil && o.OnError != nil {
			o.OnError(event.ID, result.Err)
		}
	}

	if o.SetOpenEventID != nil {
		o.SetOpenEventID(event.ID)
	}
	return result
}

// AutoOpenEvent opens the earliest incomplete event inside interval when no
// event is open and the analyst is refining events. It reports false when it
// did not pick an event.
func (o *Opener) AutoOpenEvent(ctx context.Context, events []models.Event, interval models.TimeInterval, openEventID string, activity models.AnalystActivity) (OpenResult, bool) {
	if openEventID != "" || activity != models.ActivityEventRefinement {
		return OpenResult{}, false
	}

	next, ok := NextEventToOpen(events, interval)
	if !ok {
		return OpenResult{}, false
	}
	return o.OpenEvent(ctx, events, next.ID, activity), true
}

// NextEventToOpen returns the earliest event by preferred location time that
// lies inside interval and is not Complete. events is not reordered.
func NextEventToOpen(events []models.Event, interval models.TimeInterval) (*models.Event, bool) {
	sorted := make([]*models.Event, len(events))
	for i := range events {
		sorted[i] = &events[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return PreferredLocationTime(sorted[i]) < PreferredLocationTime(sorted[j])
	})

	for _, e := range sorted {
		if interval.Contains(PreferredLocationTime(e)) && e.Status != models.EventStatusComplete {
			return e, true
		}
	}
	return nil, false
}
