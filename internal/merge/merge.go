// Package merge folds subscription pushes into cached query results.
//
// Every merge is append-only and keyed: an item whose key is already present
// is dropped, so the first value seen for a key wins and replayed pushes are
// harmless. Merges never touch the previous result; they return a freshly
// allocated one so that readers holding the old value never observe a change.
package merge

import (
	"github.com/rewired-gh/seismerge/internal/models"
)

// Stats reports what a merge did with the pushed items.
type Stats struct {
	Appended int
	Dropped  int
}

// EventsInTimeRangeResult is the cached result of the eventsInTimeRange query.
type EventsInTimeRangeResult struct {
	EventsInTimeRange []models.Event `json:"eventsInTimeRange"`
}

// SignalDetectionsResult is the cached result of signalDetectionsByStation.
type SignalDetectionsResult struct {
	SignalDetectionsByStation []models.SignalDetection `json:"signalDetectionsByStation"`
}

// ChannelSegmentsResult is the cached list of waveform segments available to the client.
type ChannelSegmentsResult struct {
	WaveformChannelSegments []models.ChannelSegmentDescriptor `json:"waveformChannelSegments"`
}

// QcMasksResult is the cached list of QC masks on the interval's channels.
type QcMasksResult struct {
	QcMasksByChannelID []models.QcMask `json:"qcMasksByChannelId"`
}

// AppendNew returns a new slice holding prev followed by every element of
// incoming whose key is not yet present. Duplicates within incoming are
// appended once, in first-seen order.
func AppendNew[T any](prev, incoming []T, key func(T) string) ([]T, Stats) {
	out := make([]T, len(prev), len(prev)+len(incoming))
	copy(out, prev)

	seen := make(map[string]struct{}, len(prev)+len(incoming))
	for _, item := range prev {
		seen[key(item)] = struct{}{}
	}

	var stats Stats
	for _, item := range incoming {
		k := key(item)
		if _, ok := seen[k]; ok {
			stats.Dropped++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
		stats.Appended++
	}
	return out, stats
}

// MergeCreatedEvents appends newly created events to the cached events.
// It returns false when payload is nil, in which case the cache must be left as is.
func MergeCreatedEvents(prev EventsInTimeRangeResult, payload *EventsCreatedPayload) (EventsInTimeRangeResult, Stats, bool) {
	if payload == nil {
		return EventsInTimeRangeResult{}, Stats{}, false
	}
	events, stats := AppendNew(prev.EventsInTimeRange, payload.EventsCreated, func(e models.Event) string {
		return e.ID
	})
	return EventsInTimeRangeResult{EventsInTimeRange: events}, stats, true
}

// MergeCreatedDetections appends newly created signal detections to the cached detections.
func MergeCreatedDetections(prev SignalDetectionsResult, payload *DetectionsCreatedPayload) (SignalDetectionsResult, Stats, bool) {
	if payload == nil {
		return SignalDetectionsResult{}, Stats{}, false
	}
	detections, stats := AppendNew(prev.SignalDetectionsByStation, payload.DetectionsCreated, func(sd models.SignalDetection) string {
		return sd.ID
	})
	return SignalDetectionsResult{SignalDetectionsByStation: detections}, stats, true
}

// MergeChannelSegmentsAdded appends announced waveform segments, keyed by channel and time span.
func MergeChannelSegmentsAdded(prev ChannelSegmentsResult, payload *ChannelSegmentsAddedPayload) (ChannelSegmentsResult, Stats, bool) {
	if payload == nil {
		return ChannelSegmentsResult{}, Stats{}, false
	}
	segments, stats := AppendNew(prev.WaveformChannelSegments, payload.WaveformChannelSegmentsAdded, models.ChannelSegmentDescriptor.Key)
	return ChannelSegmentsResult{WaveformChannelSegments: segments}, stats, true
}

// MergeCreatedQcMasks appends newly created QC masks whose current version
// overlaps interval. Masks outside interval are neither appended nor counted
// as dropped.
func MergeCreatedQcMasks(prev QcMasksResult, payload *QcMasksCreatedPayload, interval models.TimeInterval) (QcMasksResult, Stats, bool) {
	if payload == nil {
		return QcMasksResult{}, Stats{}, false
	}
	inInterval := make([]models.QcMask, 0, len(payload.QcMasksCreated))
	for _, m := range payload.QcMasksCreated {
		if m.Overlaps(interval) {
			inInterval = append(inInterval, m)
		}
	}
	masks, stats := AppendNew(prev.QcMasksByChannelID, inInterval, func(m models.QcMask) string {
		return m.ID
	})
	return QcMasksResult{QcMasksByChannelID: masks}, stats, true
}

// ReplaceDetections returns a copy of prev in which every detection whose id
// appears in updated is replaced by the updated one. Unknown ids are not
// added. It reports how many detections were replaced.
func ReplaceDetections(prev SignalDetectionsResult, updated []models.SignalDetection) (SignalDetectionsResult, int) {
	byID := make(map[string]models.SignalDetection, len(updated))
	for _, sd := range updated {
		byID[sd.ID] = sd
	}

	out := make([]models.SignalDetection, len(prev.SignalDetectionsByStation))
	replaced := 0
	for i, sd := range prev.SignalDetectionsByStation {
		if u, ok := byID[sd.ID]; ok {
			out[i] = u
			replaced++
			continue
		}
		out[i] = sd
	}
	return SignalDetectionsResult{SignalDetectionsByStation: out}, replaced
}
