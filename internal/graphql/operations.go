package graphql

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/seismerge/internal/models"
)

func timeRange(interval models.TimeInterval) map[string]any {
	return map[string]any{
		"startTime": interval.StartTimeSecs,
		"endTime":   interval.EndTimeSecs,
	}
}

// EventsInTimeRange fetches the events whose preferred time falls in interval.
func (c *Client) EventsInTimeRange(ctx context.Context, interval models.TimeInterval) ([]models.Event, error) {
	if err := interval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid time range: %w", err)
	}

	var data struct {
		EventsInTimeRange []models.Event `json:"eventsInTimeRange"`
	}
	err := c.Do(ctx, Request{
		Query:         eventsInTimeRangeQuery,
		OperationName: "eventsInTimeRange",
		Variables:     map[string]any{"timeRange": timeRange(interval)},
	}, &data)
	if err != nil {
		return nil, err
	}

	for i := range data.EventsInTimeRange {
		if err := data.EventsInTimeRange[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid eventsInTimeRange[%d]: %w", i, err)
		}
	}
	if data.EventsInTimeRange == nil {
		data.EventsInTimeRange = []models.Event{}
	}
	return data.EventsInTimeRange, nil
}

// SignalDetectionsByStation fetches the detections of stationIDs inside interval.
func (c *Client) SignalDetectionsByStation(ctx context.Context, stationIDs []string, interval models.TimeInterval) ([]models.SignalDetection, error) {
	var data struct {
		SignalDetectionsByStation []models.SignalDetection `json:"signalDetectionsByStation"`
	}
	err := c.Do(ctx, Request{
		Query:         signalDetectionsByStationQuery,
		OperationName: "signalDetectionsByStation",
		Variables: map[string]any{
			"stationIds": stationIDs,
			"timeRange":  timeRange(interval),
		},
	}, &data)
	if err != nil {
		return nil, err
	}

	for i := range data.SignalDetectionsByStation {
		if err := data.SignalDetectionsByStation[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid signalDetectionsByStation[%d]: %w", i, err)
		}
	}
	if data.SignalDetectionsByStation == nil {
		data.SignalDetectionsByStation = []models.SignalDetection{}
	}
	return data.SignalDetectionsByStation, nil
}

// TransferredFilesByTimeRange lists data-acquisition transfers inside interval.
func (c *Client) TransferredFilesByTimeRange(ctx context.Context, interval models.TimeInterval) ([]models.TransferredFile, error) {
	var data struct {
		TransferredFilesByTimeRange []models.TransferredFile `json:"transferredFilesByTimeRange"`
	}
	err := c.Do(ctx, Request{
		Query:         transferredFilesByTimeRangeQuery,
		OperationName: "transferredFilesByTimeRange",
		Variables:     map[string]any{"timeRange": timeRange(interval)},
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.TransferredFilesByTimeRange, nil
}

// UpdateEvents applies input to every event in eventIDs.
func (c *Client) UpdateEvents(ctx context.Context, eventIDs []string, input models.UpdateEventInput) error {
	if len(eventIDs) == 0 {
		return errors.New("updateEvents requires at least one event ID")
	}
	if !input.Status.Valid() {
		return fmt.Errorf("event status %q is not recognized", input.Status)
	}

	var data struct {
		UpdateEvents []models.Event `json:"updateEvents"`
	}
	return c.Do(ctx, Request{
		Query:         updateEventsMutation,
		OperationName: "updateEvents",
		Variables: map[string]any{
			"eventIds": eventIDs,
			"input":    input,
		},
	}, &data)
}

// SaveReferenceStation stores a new reference station.
func (c *Client) SaveReferenceStation(ctx context.Context, station models.ReferenceStation) (bool, error) {
	if err := station.Validate(); err != nil {
		return false, fmt.Errorf("invalid reference station: %w", err)
	}

	var data struct {
		SaveReferenceStation struct {
			Result bool `json:"result"`
		} `json:"saveReferenceStation"`
	}
	err := c.Do(ctx, Request{
		Query:         saveReferenceStationMutation,
		OperationName: "saveReferenceStation",
		Variables:     map[string]any{"input": station},
	}, &data)
	if err != nil {
		return false, err
	}
	return data.SaveReferenceStation.Result, nil
}

// ComputeFks requests FK spectra for the given detections and returns the
// detections as updated by the gateway.
func (c *Client) ComputeFks(ctx context.Context, inputs []models.FkInput) ([]models.SignalDetection, error) {
	for i := range inputs {
		if err := inputs[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid fk input %d: %w", i, err)
		}
	}

	var data struct {
		ComputeFks []models.SignalDetection `json:"computeFks"`
	}
	err := c.Do(ctx, Request{
		Query:         computeFksMutation,
		OperationName: "computeFks",
		Variables:     map[string]any{"fkInput": inputs},
	}, &data)
	if err != nil {
		return nil, err
	}
	return data.ComputeFks, nil
}

// MarkActivityInterval sets the status of an activity interval.
func (c *Client) MarkActivityInterval(ctx context.Context, intervalID string, input models.MarkActivityIntervalInput) (*models.ActivityInterval, error) {
	if intervalID == "" {
		return nil, errors.New("activity interval ID must not be empty")
	}
	if !input.Status.Valid() {
		return nil, fmt.Errorf("interval status %q is not recognized", input.Status)
	}

	var data struct {
		MarkActivityInterval models.ActivityInterval `json:"markActivityInterval"`
	}
	err := c.Do(ctx, Request{
		Query:         markActivityIntervalMutation,
		OperationName: "markActivityInterval",
		Variables: map[string]any{
			"activityIntervalId": intervalID,
			"input":              input,
		},
	}, &data)
	if err != nil {
		return nil, err
	}
	return &data.MarkActivityInterval, nil
}
