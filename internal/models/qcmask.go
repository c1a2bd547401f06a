package models

import "errors"

// QcMaskCategory classifies a QC mask.
type QcMaskCategory string

// QcMaskCategoryRejected marks a mask an analyst has rejected. Rejected
// versions carry no time span.
const QcMaskCategoryRejected QcMaskCategory = "REJECTED"

// QcMaskVersion is one revision of a QC mask.
type QcMaskVersion struct {
	Version           int            `json:"version"`
	Category          QcMaskCategory `json:"category"`
	Type              string         `json:"type,omitempty"`
	Rationale         string         `json:"rationale"`
	StartTime         float64        `json:"startTime"`
	EndTime           float64        `json:"endTime"`
	ChannelSegmentIDs []string       `json:"channelSegmentIds"`
}

// QcMask flags a span of a channel's waveform as suspect.
type QcMask struct {
	ID             string        `json:"id"`
	ChannelID      string        `json:"channelId"`
	CurrentVersion QcMaskVersion `json:"currentVersion"`
}

// Overlaps reports whether the mask's current version shares any time with
// interval, using the same strict rule as channel segments.
func (m QcMask) Overlaps(interval TimeInterval) bool {
	return m.CurrentVersion.StartTime < interval.EndTimeSecs && m.CurrentVersion.EndTime > interval.StartTimeSecs
}

// Validate checks the mask.
func (m *QcMask) Validate() error {
	if m.ID == "" {
		return errors.New("qc mask ID must not be empty")
	}
	if m.ChannelID == "" {
		return errors.New("qc mask channel ID must not be empty")
	}
	if m.CurrentVersion.EndTime < m.CurrentVersion.StartTime {
		return errors.New("qc mask end time must be >= start time")
	}
	return nil
}
