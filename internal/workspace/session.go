// Package workspace runs an analyst session headless: it materializes the
// interval's events and detections in the query cache, follows the
// subscription pushes that extend them, and keeps an event open for
// refinement.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seismerge/internal/cache"
	"github.com/rewired-gh/seismerge/internal/eventutil"
	"github.com/rewired-gh/seismerge/internal/logger"
	"github.com/rewired-gh/seismerge/internal/merge"
	"github.com/rewired-gh/seismerge/internal/metrics"
	"github.com/rewired-gh/seismerge/internal/models"
	"github.com/rewired-gh/seismerge/internal/push"
)

// Query names used as cache keys.
const (
	QueryEventsInTimeRange         = "eventsInTimeRange"
	QuerySignalDetectionsByStation = "signalDetectionsByStation"
	QueryWaveformChannelSegments   = "waveformChannelSegments"
	QueryQcMasksByChannelID        = "qcMasksByChannelId"
)

// Mutation names reported to metrics and notifications.
const (
	opUpdateEvents         = "updateEvents"
	opMarkActivityInterval = "markActivityInterval"
	opSaveReferenceStation = "saveReferenceStation"
	opComputeFks           = "computeFks"
)

// Gateway is the part of the GraphQL client a session uses.
type Gateway interface {
	EventsInTimeRange(ctx context.Context, interval models.TimeInterval) ([]models.Event, error)
	SignalDetectionsByStation(ctx context.Context, stationIDs []string, interval models.TimeInterval) ([]models.SignalDetection, error)
	UpdateEvents(ctx context.Context, eventIDs []string, input models.UpdateEventInput) error
	MarkActivityInterval(ctx context.Context, intervalID string, input models.MarkActivityIntervalInput) (*models.ActivityInterval, error)
	TransferredFilesByTimeRange(ctx context.Context, interval models.TimeInterval) ([]models.TransferredFile, error)
	SaveReferenceStation(ctx context.Context, station models.ReferenceStation) (bool, error)
	ComputeFks(ctx context.Context, inputs []models.FkInput) ([]models.SignalDetection, error)
}

// Notifier announces new events and failed mutations.
type Notifier interface {
	NotifyEventsCreated(ctx context.Context, interval models.TimeInterval, events []models.Event) error
	NotifyMutationFailure(ctx context.Context, operation, target string, cause error) error
}

// Recorder receives push and mutation outcomes.
type Recorder interface {
	ObservePush(subscription, outcome string, appended, dropped int)
	ObserveMutation(operation string, err error)
}

// Options configures a session.
type Options struct {
	Analyst        string
	Activity       models.AnalystActivity
	Interval       models.TimeInterval
	Stations       []string
	RestraintOrder []models.DepthRestraintType
	AutoOpen       bool
	ResubscribeGap time.Duration
	// AlignPhase, when set, logs station offsets on this phase whenever an event opens.
	AlignPhase string
}

// Subscriptions names the push streams a session follows.
type Subscriptions struct {
	EventsCreated                push.Subscription
	DetectionsCreated            push.Subscription
	WaveformChannelSegmentsAdded push.Subscription
	QcMasksCreated               push.Subscription
}

// Session holds the state of one analyst workspace.
type Session struct {
	gateway  Gateway
	source   push.Source
	subs     Subscriptions
	cache    *cache.Cache
	notifier Notifier
	recorder Recorder
	opts     Options
	opener   *eventutil.Opener

	// serializes open decisions so auto-open never races an explicit open
	openMu sync.Mutex

	mu          sync.RWMutex
	openEventID string
}

// New creates a session. notifier and recorder may be nil.
func New(gateway Gateway, source push.Source, subs Subscriptions, c *cache.Cache, notifier Notifier, recorder Recorder, opts Options) *Session {
	if len(opts.RestraintOrder) == 0 {
		opts.RestraintOrder = eventutil.DefaultRestraintOrder
	}
	if opts.ResubscribeGap <= 0 {
		opts.ResubscribeGap = 5 * time.Second
	}

	s := &Session{
		gateway:  gateway,
		source:   source,
		subs:     subs,
		cache:    c,
		notifier: notifier,
		recorder: recorder,
		opts:     opts,
	}
	s.opener = &eventutil.Opener{
		Updater:         gateway,
		AnalystUserName: opts.Analyst,
		SetOpenEventID:  s.setOpenEventID,
		OnError:         s.onUpdateEventsError,
	}
	return s
}

func (s *Session) key(query string) cache.Key {
	return cache.Key{Query: query, Interval: s.opts.Interval}
}

// Load queries the interval's events, and its detections when stations are
// configured, and stores them in the cache. When a query fails but a previous
// result is cached (for example restored from a snapshot) the cached result is
// kept and the failure is logged.
func (s *Session) Load(ctx context.Context) error {
	events, err := s.gateway.EventsInTimeRange(ctx, s.opts.Interval)
	if err != nil {
		if _, ok := cache.Get[merge.EventsInTimeRangeResult](s.cache, s.key(QueryEventsInTimeRange)); !ok {
			return fmt.Errorf("failed to load events: %w", err)
		}
		logger.Warn("Failed to load events, using cached result: %v", err)
	} else {
		cache.Set(s.cache, s.key(QueryEventsInTimeRange), merge.EventsInTimeRangeResult{EventsInTimeRange: events})
		logger.Info("Loaded %d events for %s", len(events), s.opts.Interval)
	}

	if len(s.opts.Stations) > 0 {
		detections, err := s.gateway.SignalDetectionsByStation(ctx, s.opts.Stations, s.opts.Interval)
		if err != nil {
			if _, ok := cache.Get[merge.SignalDetectionsResult](s.cache, s.key(QuerySignalDetectionsByStation)); !ok {
				return fmt.Errorf("failed to load signal detections: %w", err)
			}
			logger.Warn("Failed to load signal detections, using cached result: %v", err)
		} else {
			cache.Set(s.cache, s.key(QuerySignalDetectionsByStation), merge.SignalDetectionsResult{SignalDetectionsByStation: detections})
			logger.Info("Loaded %d signal detections for %d stations", len(detections), len(s.opts.Stations))
		}
	}

	s.autoOpen(ctx)
	return nil
}

// Run follows the push streams until ctx is done. A stream that ends or
// fails is resubscribed after the configured gap.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	follow := func(sub push.Subscription, handle push.Handler) {
		g.Go(func() error {
			return s.follow(gctx, sub, handle)
		})
	}
	follow(s.subs.EventsCreated, s.handleEventsCreated)
	follow(s.subs.DetectionsCreated, s.handleDetectionsCreated)
	follow(s.subs.WaveformChannelSegmentsAdded, s.handleChannelSegmentsAdded)
	follow(s.subs.QcMasksCreated, s.handleQcMasksCreated)

	return g.Wait()
}

func (s *Session) follow(ctx context.Context, sub push.Subscription, handle push.Handler) error {
	for {
		err := s.source.Subscribe(ctx, sub, handle)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, push.ErrClosed) {
			logger.Info("%s stream closed by server, resubscribing in %v", sub.Name, s.opts.ResubscribeGap)
		} else {
			logger.Error("%s subscription failed, resubscribing in %v: %v", sub.Name, s.opts.ResubscribeGap, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.ResubscribeGap):
		}
	}
}

func (s *Session) handleEventsCreated(ctx context.Context, data json.RawMessage) error {
	name := s.subs.EventsCreated.Name
	payload, err := merge.DecodeEventsCreated(data)
	if err != nil {
		s.observePush(name, metrics.OutcomeRejected, merge.Stats{})
		return err
	}

	merged := false
	var added []models.Event
	cache.Update(s.cache, s.key(QueryEventsInTimeRange), func(prev merge.EventsInTimeRangeResult, found bool) (merge.EventsInTimeRangeResult, bool) {
		if !found {
			return prev, false
		}
		next, stats, ok := merge.MergeCreatedEvents(prev, payload)
		if !ok {
			return prev, false
		}
		merged = true
		s.observePush(name, metrics.OutcomeMerged, stats)
		added = next.EventsInTimeRange[len(prev.EventsInTimeRange):]
		return next, stats.Appended > 0
	})
	if !merged {
		s.observePush(name, metrics.OutcomeIgnored, merge.Stats{})
	}
	if len(added) == 0 {
		return nil
	}

	logger.Info("Merged %d new events", len(added))
	if s.notifier != nil {
		if err := s.notifier.NotifyEventsCreated(ctx, s.opts.Interval, added); err != nil {
			logger.Warn("Failed to send new events notification: %v", err)
		}
	}
	s.autoOpen(ctx)
	return nil
}

func (s *Session) handleDetectionsCreated(_ context.Context, data json.RawMessage) error {
	name := s.subs.DetectionsCreated.Name
	payload, err := merge.DecodeDetectionsCreated(data)
	if err != nil {
		s.observePush(name, metrics.OutcomeRejected, merge.Stats{})
		return err
	}

	merged := false
	cache.Update(s.cache, s.key(QuerySignalDetectionsByStation), func(prev merge.SignalDetectionsResult, found bool) (merge.SignalDetectionsResult, bool) {
		if !found {
			return prev, false
		}
		next, stats, ok := merge.MergeCreatedDetections(prev, payload)
		if !ok {
			return prev, false
		}
		merged = true
		s.observePush(name, metrics.OutcomeMerged, stats)
		return next, stats.Appended > 0
	})
	if !merged {
		s.observePush(name, metrics.OutcomeIgnored, merge.Stats{})
	}
	return nil
}

func (s *Session) handleChannelSegmentsAdded(_ context.Context, data json.RawMessage) error {
	name := s.subs.WaveformChannelSegmentsAdded.Name
	payload, err := merge.DecodeChannelSegmentsAdded(data)
	if err != nil {
		s.observePush(name, metrics.OutcomeRejected, merge.Stats{})
		return err
	}
	if payload == nil {
		s.observePush(name, metrics.OutcomeIgnored, merge.Stats{})
		return nil
	}

	// only segments that reach into the open interval are kept
	inInterval := make([]models.ChannelSegmentDescriptor, 0, len(payload.WaveformChannelSegmentsAdded))
	for _, d := range payload.WaveformChannelSegmentsAdded {
		if d.Overlaps(s.opts.Interval) {
			inInterval = append(inInterval, d)
		}
	}
	if len(inInterval) == 0 {
		s.observePush(name, metrics.OutcomeIgnored, merge.Stats{})
		return nil
	}
	filtered := &merge.ChannelSegmentsAddedPayload{WaveformChannelSegmentsAdded: inInterval}

	cache.Update(s.cache, s.key(QueryWaveformChannelSegments), func(prev merge.ChannelSegmentsResult, _ bool) (merge.ChannelSegmentsResult, bool) {
		next, stats, _ := merge.MergeChannelSegmentsAdded(prev, filtered)
		s.observePush(name, metrics.OutcomeMerged, stats)
		return next, stats.Appended > 0
	})
	return nil
}

func (s *Session) handleQcMasksCreated(_ context.Context, data json.RawMessage) error {
	name := s.subs.QcMasksCreated.Name
	payload, err := merge.DecodeQcMasksCreated(data)
	if err != nil {
		s.observePush(name, metrics.OutcomeRejected, merge.Stats{})
		return err
	}
	if payload == nil {
		s.observePush(name, metrics.OutcomeIgnored, merge.Stats{})
		return nil
	}

	cache.Update(s.cache, s.key(QueryQcMasksByChannelID), func(prev merge.QcMasksResult, _ bool) (merge.QcMasksResult, bool) {
		next, stats, _ := merge.MergeCreatedQcMasks(prev, payload, s.opts.Interval)
		outcome := metrics.OutcomeMerged
		if stats.Appended == 0 && stats.Dropped == 0 {
			outcome = metrics.OutcomeIgnored
		}
		s.observePush(name, outcome, stats)
		return next, stats.Appended > 0
	})
	return nil
}

func (s *Session) observePush(name, outcome string, stats merge.Stats) {
	if s.recorder != nil {
		s.recorder.ObservePush(name, outcome, stats.Appended, stats.Dropped)
	}
}

// Events returns the cached events of the interval.
func (s *Session) Events() []models.Event {
	result, _ := cache.Get[merge.EventsInTimeRangeResult](s.cache, s.key(QueryEventsInTimeRange))
	return result.EventsInTimeRange
}

// Detections returns the cached signal detections of the interval.
func (s *Session) Detections() []models.SignalDetection {
	result, _ := cache.Get[merge.SignalDetectionsResult](s.cache, s.key(QuerySignalDetectionsByStation))
	return result.SignalDetectionsByStation
}

// ChannelSegments returns the channel segments announced for the interval.
func (s *Session) ChannelSegments() []models.ChannelSegmentDescriptor {
	result, _ := cache.Get[merge.ChannelSegmentsResult](s.cache, s.key(QueryWaveformChannelSegments))
	return result.WaveformChannelSegments
}

// QcMasks returns the QC masks created inside the interval.
func (s *Session) QcMasks() []models.QcMask {
	result, _ := cache.Get[merge.QcMasksResult](s.cache, s.key(QueryQcMasksByChannelID))
	return result.QcMasksByChannelID
}

// OpenEventID returns the id of the event open for refinement, or "".
func (s *Session) OpenEventID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openEventID
}

func (s *Session) setOpenEventID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openEventID = id
}

// OpenEvent opens eventID for refinement.
func (s *Session) OpenEvent(ctx context.Context, eventID string) eventutil.OpenResult {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	result := s.opener.OpenEvent(ctx, s.Events(), eventID, s.opts.Activity)
	s.recordOpen(eventID, result)
	return result
}

func (s *Session) autoOpen(ctx context.Context) {
	if !s.opts.AutoOpen {
		return
	}
	s.openMu.Lock()
	defer s.openMu.Unlock()

	result, ok := s.opener.AutoOpenEvent(ctx, s.Events(), s.opts.Interval, s.OpenEventID(), s.opts.Activity)
	if ok {
		s.recordOpen(s.OpenEventID(), result)
	}
}

func (s *Session) recordOpen(eventID string, result eventutil.OpenResult) {
	if !result.Found {
		logger.Warn("Event %s is not in the interval", eventID)
		return
	}
	logger.Info("Opened event %s", eventID)
	if s.opts.AlignPhase != "" {
		if offsets, ok := s.Offsets(s.opts.AlignPhase); ok {
			logger.Info("Aligned %d stations of %s on %s: %v", len(offsets), eventID, s.opts.AlignPhase, offsets)
		}
	}
	// failures are recorded by onUpdateEventsError
	if result.MutationSent && result.Err == nil && s.recorder != nil {
		s.recorder.ObserveMutation(opUpdateEvents, nil)
	}
}

func (s *Session) onUpdateEventsError(eventID string, err error) {
	s.mutationFailed(context.Background(), opUpdateEvents, eventID, err)
}

func (s *Session) mutationFailed(ctx context.Context, operation, id string, err error) {
	logger.Error("%s failed for %s: %v", operation, id, err)
	if s.recorder != nil {
		s.recorder.ObserveMutation(operation, err)
	}
	if s.notifier != nil {
		if nerr := s.notifier.NotifyMutationFailure(ctx, operation, id, err); nerr != nil {
			logger.Warn("Failed to send mutation failure notification: %v", nerr)
		}
	}
}

// PreferredLocationID resolves the preferred location solution of a cached event.
func (s *Session) PreferredLocationID(eventID string) (string, bool) {
	events := s.Events()
	event, ok := eventutil.FindEvent(events, eventID)
	if !ok {
		return "", false
	}
	return eventutil.PreferredLocationID(event.Hypothesis(), s.opts.RestraintOrder)
}

// Offsets aligns stations on phase using the predictions of the open event's
// preferred location solution. It returns false when no event is open.
func (s *Session) Offsets(phase string) ([]eventutil.Offset, bool) {
	return s.EventOffsets(s.OpenEventID(), phase)
}

// EventOffsets aligns stations on phase using the predictions of eventID's
// preferred location solution.
func (s *Session) EventOffsets(eventID, phase string) ([]eventutil.Offset, bool) {
	event, ok := eventutil.FindEvent(s.Events(), eventID)
	if !ok {
		return nil, false
	}
	hyp := event.Hypothesis()
	locationID, ok := eventutil.PreferredLocationID(hyp, s.opts.RestraintOrder)
	if !ok {
		return nil, false
	}
	solution, ok := eventutil.LocationSolutionByID(hyp, locationID)
	if !ok {
		return nil, false
	}
	return eventutil.CalculateOffsets(solution.FeaturePredictions, phase), true
}

// DetectionStates returns the association state of every cached detection,
// keyed by detection id, relative to the open event.
func (s *Session) DetectionStates() map[string]eventutil.AssociationState {
	events := s.Events()
	openID := s.OpenEventID()
	detections := s.Detections()

	states := make(map[string]eventutil.AssociationState, len(detections))
	for i := range detections {
		states[detections[i].ID] = eventutil.DetectionState(&detections[i], events, openID)
	}
	return states
}

// MarkActivityInterval moves an activity interval from one status to another
// on behalf of the session's analyst.
func (s *Session) MarkActivityInterval(ctx context.Context, intervalID string, from, to models.IntervalStatus) (*models.ActivityInterval, error) {
	if err := models.ValidateActivityTransition(from, to); err != nil {
		return nil, err
	}

	interval, err := s.gateway.MarkActivityInterval(ctx, intervalID, models.MarkActivityIntervalInput{
		Status:          to,
		AnalystUserName: s.opts.Analyst,
	})
	if err != nil {
		s.mutationFailed(ctx, opMarkActivityInterval, intervalID, err)
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.ObserveMutation(opMarkActivityInterval, nil)
	}
	return interval, nil
}

// TransferredFiles lists the data-acquisition transfers of the interval.
func (s *Session) TransferredFiles(ctx context.Context) ([]models.TransferredFile, error) {
	return s.gateway.TransferredFilesByTimeRange(ctx, s.opts.Interval)
}

// SaveReferenceStation stores a new reference station.
func (s *Session) SaveReferenceStation(ctx context.Context, station models.ReferenceStation) (bool, error) {
	ok, err := s.gateway.SaveReferenceStation(ctx, station)
	if err != nil {
		s.mutationFailed(ctx, opSaveReferenceStation, station.Name, err)
		return false, err
	}
	if s.recorder != nil {
		s.recorder.ObserveMutation(opSaveReferenceStation, nil)
	}
	return ok, nil
}

// ComputeFks requests FK spectra for detections and swaps the updated
// detections into the cached detections of the interval.
func (s *Session) ComputeFks(ctx context.Context, inputs []models.FkInput) ([]models.SignalDetection, error) {
	updated, err := s.gateway.ComputeFks(ctx, inputs)
	if err != nil {
		ids := make([]string, 0, len(inputs))
		for _, in := range inputs {
			ids = append(ids, in.SignalDetectionID)
		}
		s.mutationFailed(ctx, opComputeFks, strings.Join(ids, ","), err)
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.ObserveMutation(opComputeFks, nil)
	}

	cache.Update(s.cache, s.key(QuerySignalDetectionsByStation), func(prev merge.SignalDetectionsResult, found bool) (merge.SignalDetectionsResult, bool) {
		if !found {
			return prev, false
		}
		next, replaced := merge.ReplaceDetections(prev, updated)
		return next, replaced > 0
	})
	return updated, nil
}
