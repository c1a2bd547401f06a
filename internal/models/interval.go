package models

import (
	"errors"
	"fmt"
	"strconv"
)

// TimeInterval is an analyst-selected window in epoch seconds.
type TimeInterval struct {
	StartTimeSecs float64 `json:"startTimeSecs"`
	EndTimeSecs   float64 `json:"endTimeSecs"`
}

// Contains reports whether t lies within the interval, inclusive on both ends.
func (i TimeInterval) Contains(t float64) bool {
	return t >= i.StartTimeSecs && t <= i.EndTimeSecs
}

// String renders the interval as "start-end" for cache keys and log lines.
func (i TimeInterval) String() string {
	return fmt.Sprintf("%.3f-%.3f", i.StartTimeSecs, i.EndTimeSecs)
}

// Validate checks that the interval is not inverted.
func (i TimeInterval) Validate() error {
	if i.EndTimeSecs < i.StartTimeSecs {
		return errors.New("interval end time must be >= start time")
	}
	return nil
}

// ChannelSegmentDescriptor announces that waveform data is available for a channel.
type ChannelSegmentDescriptor struct {
	ChannelID string  `json:"channelId"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// Key identifies the descriptor by channel and exact time span.
func (d ChannelSegmentDescriptor) Key() string {
	return d.ChannelID + "/" + strconv.FormatFloat(d.StartTime, 'g', -1, 64) + "/" + strconv.FormatFloat(d.EndTime, 'g', -1, 64)
}

// Overlaps reports whether the segment shares any time with interval.
// Touching end points do not count.
func (d ChannelSegmentDescriptor) Overlaps(interval TimeInterval) bool {
	return d.StartTime < interval.EndTimeSecs && d.EndTime > interval.StartTimeSecs
}

// Validate checks the descriptor.
func (d *ChannelSegmentDescriptor) Validate() error {
	if d.ChannelID == "" {
		return errors.New("channel ID must not be empty")
	}
	if d.EndTime < d.StartTime {
		return errors.New("segment end time must be >= start time")
	}
	return nil
}

// TransferredFile is a data-acquisition file transfer record.
type TransferredFile struct {
	FileName       string                  `json:"fileName"`
	Priority       string                  `json:"priority"`
	TransferTime   string                  `json:"transferTime"`
	TransferStatus string                  `json:"transferStatus"`
	Metadata       TransferredFileMetadata `json:"metadata"`
}

// TransferredFileMetadata describes the data a transferred file covers.
type TransferredFileMetadata struct {
	ChannelNames []string `json:"channelNames"`
	StartTime    string   `json:"startTime"`
	EndTime      string   `json:"endTime"`
}

// InformationSource records where reference information came from.
type InformationSource struct {
	OriginatingOrganization string `json:"originatingOrganization"`
	InformationTime         string `json:"informationTime"`
	Reference               string `json:"reference"`
}

// ReferenceStation is the input of the saveReferenceStation mutation.
type ReferenceStation struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	StationType      string            `json:"stationType"`
	Comment          string            `json:"comment"`
	Source           InformationSource `json:"source"`
	Latitude         float64           `json:"latitude"`
	Longitude        float64           `json:"longitude"`
	Elevation        float64           `json:"elevation"`
	ActualChangeTime string            `json:"actualChangeTime"`
	SystemChangeTime string            `json:"systemChangeTime"`
	Aliases          []string          `json:"aliases"`
}

// Validate checks the fields the gateway requires.
func (r *ReferenceStation) Validate() error {
	if r.Name == "" {
		return errors.New("reference station name must not be empty")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return errors.New("latitude must be between -90 and 90")
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

// FrequencyBand bounds an FK computation.
type FrequencyBand struct {
	MinFrequencyHz float64 `json:"minFrequencyHz"`
	MaxFrequencyHz float64 `json:"maxFrequencyHz"`
}

// WindowParameters positions the FK window relative to the arrival.
type WindowParameters struct {
	LeadSeconds   float64 `json:"leadSeconds"`
	LengthSeconds float64 `json:"lengthSeconds"`
	StepSize      float64 `json:"stepSize"`
}

// FkInput requests an azimuth-slowness computation for one detection.
type FkInput struct {
	StationID                   string           `json:"stationId"`
	SignalDetectionID           string           `json:"signalDetectionId"`
	SignalDetectionHypothesisID string           `json:"signalDetectionHypothesisId"`
	PhaseType                   string           `json:"phaseType"`
	FrequencyBand               FrequencyBand    `json:"frequencyBand"`
	WindowParams                WindowParameters `json:"windowParams"`
}

// Validate checks the FK request.
func (f *FkInput) Validate() error {
	if f.SignalDetectionID == "" {
		return errors.New("signal detection ID must not be empty")
	}
	if f.FrequencyBand.MaxFrequencyHz <= f.FrequencyBand.MinFrequencyHz {
		return errors.New("max frequency must be greater than min frequency")
	}
	if f.WindowParams.LengthSeconds <= 0 {
		return errors.New("window length must be positive")
	}
	return nil
}
