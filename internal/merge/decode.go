package merge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rewired-gh/seismerge/internal/models"
)

// EventsCreatedPayload is the data object of an eventsCreated push.
type EventsCreatedPayload struct {
	EventsCreated []models.Event `json:"eventsCreated"`
}

// DetectionsCreatedPayload is the data object of a detectionsCreated push.
type DetectionsCreatedPayload struct {
	DetectionsCreated []models.SignalDetection `json:"detectionsCreated"`
}

// ChannelSegmentsAddedPayload is the data object of a waveformChannelSegmentsAdded push.
type ChannelSegmentsAddedPayload struct {
	WaveformChannelSegmentsAdded []models.ChannelSegmentDescriptor `json:"waveformChannelSegmentsAdded"`
}

// QcMasksCreatedPayload is the data object of a qcMasksCreated push.
type QcMasksCreatedPayload struct {
	QcMasksCreated []models.QcMask `json:"qcMasksCreated"`
}

// DecodeEventsCreated decodes and validates an eventsCreated data object.
// Empty or null data yields (nil, nil).
func DecodeEventsCreated(data json.RawMessage) (*EventsCreatedPayload, error) {
	events, present, err := decodeField(data, "eventsCreated", func(e *models.Event) error { return e.Validate() })
	if err != nil || !present {
		return nil, err
	}
	return &EventsCreatedPayload{EventsCreated: events}, nil
}

// DecodeDetectionsCreated decodes and validates a detectionsCreated data object.
func DecodeDetectionsCreated(data json.RawMessage) (*DetectionsCreatedPayload, error) {
	detections, present, err := decodeField(data, "detectionsCreated", func(sd *models.SignalDetection) error { return sd.Validate() })
	if err != nil || !present {
		return nil, err
	}
	return &DetectionsCreatedPayload{DetectionsCreated: detections}, nil
}

// DecodeChannelSegmentsAdded decodes and validates a waveformChannelSegmentsAdded data object.
func DecodeChannelSegmentsAdded(data json.RawMessage) (*ChannelSegmentsAddedPayload, error) {
	segments, present, err := decodeField(data, "waveformChannelSegmentsAdded", func(d *models.ChannelSegmentDescriptor) error { return d.Validate() })
	if err != nil || !present {
		return nil, err
	}
	return &ChannelSegmentsAddedPayload{WaveformChannelSegmentsAdded: segments}, nil
}

// DecodeQcMasksCreated decodes and validates a qcMasksCreated data object.
func DecodeQcMasksCreated(data json.RawMessage) (*QcMasksCreatedPayload, error) {
	masks, present, err := decodeField(data, "qcMasksCreated", func(m *models.QcMask) error { return m.Validate() })
	if err != nil || !present {
		return nil, err
	}
	return &QcMasksCreatedPayload{QcMasksCreated: masks}, nil
}

// decodeField pulls the named list out of a data object and validates each element.
// present is false only when data itself is empty or null.
func decodeField[T any](data json.RawMessage, name string, validate func(*T) error) ([]T, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false, fmt.Errorf("failed to decode push data: %w", err)
	}

	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false, fmt.Errorf("missing required field %s", name)
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	for i := range items {
		if err := validate(&items[i]); err != nil {
			return nil, false, fmt.Errorf("invalid %s[%d]: %w", name, i, err)
		}
	}
	return items, true, nil
}
