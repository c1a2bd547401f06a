// Package models defines the domain records exchanged with the analysis gateway:
// events and their hypotheses, signal detections, feature measurements, waveform
// channel segments, transferred files, and workflow intervals.
//
// Every record mirrors the GraphQL schema field names in its JSON tags and exposes
// a Validate method so that payloads can be rejected as soon as they are decoded,
// instead of carrying half-populated values into the query cache.
package models

import (
	"errors"
	"fmt"
)

// EventStatus is the analyst workflow status of an event.
type EventStatus string

const (
	EventStatusReadyForRefinement EventStatus = "ReadyForRefinement"
	EventStatusOpenForRefinement  EventStatus = "OpenForRefinement"
	EventStatusAwaitingReview     EventStatus = "AwaitingReview"
	EventStatusNotComplete        EventStatus = "NotComplete"
	EventStatusComplete           EventStatus = "Complete"
)

// Valid reports whether s is one of the known statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusReadyForRefinement, EventStatusOpenForRefinement,
		EventStatusAwaitingReview, EventStatusNotComplete, EventStatusComplete:
		return true
	}
	return false
}

// DepthRestraintType describes the depth policy that produced a location solution.
type DepthRestraintType string

const (
	DepthRestraintUnrestrained   DepthRestraintType = "UNRESTRAINED"
	DepthRestraintFixedAtDepth   DepthRestraintType = "FIXED_AT_DEPTH"
	DepthRestraintFixedAtSurface DepthRestraintType = "FIXED_AT_SURFACE"
)

// Valid reports whether t is one of the known depth restraint types.
func (t DepthRestraintType) Valid() bool {
	switch t {
	case DepthRestraintUnrestrained, DepthRestraintFixedAtDepth, DepthRestraintFixedAtSurface:
		return true
	}
	return false
}

// RestraintType applies to latitude, longitude and time restraints.
type RestraintType string

const (
	RestraintUnrestrained RestraintType = "UNRESTRAINED"
	RestraintFixed        RestraintType = "FIXED"
)

// Analyst identifies a user actively working an event.
type Analyst struct {
	UserName string `json:"userName"`
}

// Event is a candidate seismic event under analyst review.
type Event struct {
	ID                     string                   `json:"id"`
	MonitoringOrganization string                   `json:"monitoringOrganization,omitempty"`
	Status                 EventStatus              `json:"status"`
	Modified               bool                     `json:"modified"`
	ActiveAnalysts         []Analyst                `json:"activeAnalysts"`
	CurrentEventHypothesis PreferredEventHypothesis `json:"currentEventHypothesis"`
}

// PreferredEventHypothesis is the hypothesis preferred at a processing stage.
type PreferredEventHypothesis struct {
	ProcessingStageID string          `json:"processingStageId"`
	EventHypothesis   EventHypothesis `json:"eventHypothesis"`
}

// EventHypothesis is one interpretive revision of an event.
type EventHypothesis struct {
	ID                          string                            `json:"id"`
	EventID                     string                            `json:"eventId"`
	Rejected                    bool                              `json:"rejected"`
	LocationSolutionSets        []LocationSolutionSet             `json:"locationSolutionSets"`
	PreferredLocationSolution   PreferredLocationSolution         `json:"preferredLocationSolution"`
	SignalDetectionAssociations []SignalDetectionEventAssociation `json:"signalDetectionAssociations"`
}

// PreferredLocationSolution points at the location solution chosen for a hypothesis.
type PreferredLocationSolution struct {
	LocationSolution LocationSolution `json:"locationSolution"`
}

// LocationSolutionSet groups alternative solutions computed together.
// Count is the revision ordinal within the hypothesis.
type LocationSolutionSet struct {
	ID                string             `json:"id"`
	Count             int                `json:"count"`
	LocationSolutions []LocationSolution `json:"locationSolutions"`
}

// LocationSolution is one candidate location.
type LocationSolution struct {
	ID                 string              `json:"id"`
	LocationRestraint  LocationRestraint   `json:"locationRestraint"`
	Location           EventLocation       `json:"location"`
	FeaturePredictions []FeaturePrediction `json:"featurePredictions,omitempty"`
}

// LocationRestraint describes which restraint policy produced a solution.
type LocationRestraint struct {
	DepthRestraintType        DepthRestraintType `json:"depthRestraintType"`
	DepthRestraintKm          float64            `json:"depthRestraintKm"`
	LatitudeRestraintType     RestraintType      `json:"latitudeRestraintType,omitempty"`
	LatitudeRestraintDegrees  float64            `json:"latitudeRestraintDegrees,omitempty"`
	LongitudeRestraintType    RestraintType      `json:"longitudeRestraintType,omitempty"`
	LongitudeRestraintDegrees float64            `json:"longitudeRestraintDegrees,omitempty"`
	TimeRestraintType         RestraintType      `json:"timeRestraintType,omitempty"`
	TimeRestraint             string             `json:"timeRestraint,omitempty"`
}

// EventLocation is a hypocenter; Time is in epoch seconds.
type EventLocation struct {
	LatitudeDegrees  float64 `json:"latitudeDegrees"`
	LongitudeDegrees float64 `json:"longitudeDegrees"`
	DepthKm          float64 `json:"depthKm"`
	Time             float64 `json:"time"`
}

// SignalDetectionEventAssociation links an event hypothesis to a detection hypothesis.
type SignalDetectionEventAssociation struct {
	ID                        string                   `json:"id"`
	Rejected                  bool                     `json:"rejected"`
	SignalDetectionHypothesis SignalDetectionReference `json:"signalDetectionHypothesis"`
}

// SignalDetectionReference is the slim detection hypothesis carried by an association.
type SignalDetectionReference struct {
	ID       string `json:"id"`
	Rejected bool   `json:"rejected"`
}

// ActiveAnalystUserNames returns the user names of the active analysts in order.
func (e *Event) ActiveAnalystUserNames() []string {
	names := make([]string, 0, len(e.ActiveAnalysts))
	for _, a := range e.ActiveAnalysts {
		names = append(names, a.UserName)
	}
	return names
}

// Hypothesis returns the event's current hypothesis.
func (e *Event) Hypothesis() *EventHypothesis {
	return &e.CurrentEventHypothesis.EventHypothesis
}

// Validate checks that all event fields required by the merge and selector layer are present.
func (e *Event) Validate() error {
	if e.ID == "" {
		return errors.New("event ID must not be empty")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("event status %q is not recognized", e.Status)
	}
	if e.CurrentEventHypothesis.EventHypothesis.ID == "" {
		return errors.New("current event hypothesis ID must not be empty")
	}
	for i := range e.CurrentEventHypothesis.EventHypothesis.LocationSolutionSets {
		if err := e.CurrentEventHypothesis.EventHypothesis.LocationSolutionSets[i].Validate(); err != nil {
			return fmt.Errorf("location solution set %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks the set and each of its solutions.
func (s *LocationSolutionSet) Validate() error {
	if s.ID == "" {
		return errors.New("location solution set ID must not be empty")
	}
	if s.Count < 0 {
		return errors.New("location solution set count must not be negative")
	}
	for i := range s.LocationSolutions {
		if err := s.LocationSolutions[i].Validate(); err != nil {
			return fmt.Errorf("location solution %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks that the solution is identifiable and its restraint type is known.
func (l *LocationSolution) Validate() error {
	if l.ID == "" {
		return errors.New("location solution ID must not be empty")
	}
	if !l.LocationRestraint.DepthRestraintType.Valid() {
		return fmt.Errorf("depth restraint type %q is not recognized", l.LocationRestraint.DepthRestraintType)
	}
	return nil
}

// UpdateEventInput carries the field values applied by the updateEvents mutation.
type UpdateEventInput struct {
	ProcessingStageID      string      `json:"processingStageId"`
	Status                 EventStatus `json:"status"`
	PreferredHypothesisID  string      `json:"preferredHypothesisId,omitempty"`
	ActiveAnalystUserNames []string    `json:"activeAnalystUserNames"`
}

// AnalystActivity is the mode the analyst is currently working in.
type AnalystActivity string

const (
	ActivityEventRefinement AnalystActivity = "EventRefinement"
	ActivityGlobalScan      AnalystActivity = "GlobalScan"
	ActivityRegionScan      AnalystActivity = "RegionScan"
)

// Valid reports whether a is one of the known activities.
func (a AnalystActivity) Valid() bool {
	switch a {
	case ActivityEventRefinement, ActivityGlobalScan, ActivityRegionScan:
		return true
	}
	return false
}
