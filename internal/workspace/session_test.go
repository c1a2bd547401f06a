package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rewired-gh/seismerge/internal/cache"
	"github.com/rewired-gh/seismerge/internal/eventutil"
	"github.com/rewired-gh/seismerge/internal/metrics"
	"github.com/rewired-gh/seismerge/internal/models"
	"github.com/rewired-gh/seismerge/internal/push"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu          sync.Mutex
	events      []models.Event
	eventsErr   error
	detections  []models.SignalDetection
	updates     [][]string
	updateInput []models.UpdateEventInput
	updateErr   error
	marked      []models.MarkActivityIntervalInput
	markErr     error
	files       []models.TransferredFile
	stations    []models.ReferenceStation
	stationErr  error
	fkInputs    []models.FkInput
	fkResult    []models.SignalDetection
	fkErr       error
}

func (f *fakeGateway) EventsInTimeRange(context.Context, models.TimeInterval) ([]models.Event, error) {
	return f.events, f.eventsErr
}

func (f *fakeGateway) SignalDetectionsByStation(context.Context, []string, models.TimeInterval) ([]models.SignalDetection, error) {
	return f.detections, nil
}

func (f *fakeGateway) UpdateEvents(_ context.Context, ids []string, input models.UpdateEventInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, ids)
	f.updateInput = append(f.updateInput, input)
	return f.updateErr
}

func (f *fakeGateway) MarkActivityInterval(_ context.Context, id string, input models.MarkActivityIntervalInput) (*models.ActivityInterval, error) {
	f.marked = append(f.marked, input)
	if f.markErr != nil {
		return nil, f.markErr
	}
	return &models.ActivityInterval{ID: id, Status: input.Status}, nil
}

func (f *fakeGateway) TransferredFilesByTimeRange(context.Context, models.TimeInterval) ([]models.TransferredFile, error) {
	return f.files, nil
}

func (f *fakeGateway) SaveReferenceStation(_ context.Context, station models.ReferenceStation) (bool, error) {
	f.stations = append(f.stations, station)
	return f.stationErr == nil, f.stationErr
}

func (f *fakeGateway) ComputeFks(_ context.Context, inputs []models.FkInput) ([]models.SignalDetection, error) {
	f.fkInputs = append(f.fkInputs, inputs...)
	return f.fkResult, f.fkErr
}

type failure struct {
	operation string
	id        string
}

type fakeNotifier struct {
	mu       sync.Mutex
	created  [][]string
	failures []failure
}

func (f *fakeNotifier) NotifyEventsCreated(_ context.Context, _ models.TimeInterval, events []models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	f.created = append(f.created, ids)
	return nil
}

func (f *fakeNotifier) NotifyMutationFailure(_ context.Context, operation, id string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{operation: operation, id: id})
	return nil
}

type pushRecord struct {
	subscription string
	outcome      string
	appended     int
	dropped      int
}

type fakeRecorder struct {
	mu        sync.Mutex
	pushes    []pushRecord
	mutations map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{mutations: make(map[string]int)}
}

func (f *fakeRecorder) ObservePush(subscription, outcome string, appended, dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushRecord{subscription, outcome, appended, dropped})
}

func (f *fakeRecorder) ObserveMutation(operation string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	f.mutations[operation+"/"+status]++
}

func (f *fakeRecorder) last() pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

var testSubs = Subscriptions{
	EventsCreated:                push.Subscription{Name: "eventsCreated"},
	DetectionsCreated:            push.Subscription{Name: "detectionsCreated"},
	WaveformChannelSegmentsAdded: push.Subscription{Name: "waveformChannelSegmentsAdded"},
	QcMasksCreated:               push.Subscription{Name: "qcMasksCreated"},
}

var testInterval = models.TimeInterval{StartTimeSecs: 0, EndTimeSecs: 3600}

func event(id string, t float64, status models.EventStatus) models.Event {
	return models.Event{
		ID:             id,
		Status:         status,
		ActiveAnalysts: []models.Analyst{{UserName: "first"}},
		CurrentEventHypothesis: models.PreferredEventHypothesis{
			ProcessingStageID: "stage-1",
			EventHypothesis: models.EventHypothesis{
				ID:      id + "-hyp",
				EventID: id,
				PreferredLocationSolution: models.PreferredLocationSolution{
					LocationSolution: models.LocationSolution{ID: id + "-ls", Location: models.EventLocation{Time: t}},
				},
			},
		},
	}
}

func eventsCreatedPush(t *testing.T, events ...models.Event) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{"eventsCreated": events})
	require.NoError(t, err)
	return data
}

type harness struct {
	gateway  *fakeGateway
	notifier *fakeNotifier
	recorder *fakeRecorder
	session  *Session
}

func newHarness(t *testing.T, source push.Source, opts Options) *harness {
	t.Helper()
	h := &harness{
		gateway: &fakeGateway{events: []models.Event{
			event("E1", 100, models.EventStatusComplete),
			event("E2", 200, models.EventStatusReadyForRefinement),
			event("E3", 5000, models.EventStatusReadyForRefinement),
		}},
		notifier: &fakeNotifier{},
		recorder: newFakeRecorder(),
	}
	if opts.Analyst == "" {
		opts.Analyst = "analyst1"
	}
	if opts.Activity == "" {
		opts.Activity = models.ActivityEventRefinement
	}
	opts.Interval = testInterval
	c := cache.New(0, filepath.Join(t.TempDir(), "cache.json"), 0o644, 0o755)
	h.session = New(h.gateway, source, testSubs, c, h.notifier, h.recorder, opts)
	return h
}

func TestLoad_AutoOpensEarliestIncompleteEvent(t *testing.T) {
	h := newHarness(t, nil, Options{AutoOpen: true})

	require.NoError(t, h.session.Load(context.Background()))

	assert.Len(t, h.session.Events(), 3)
	assert.Equal(t, "E2", h.session.OpenEventID())
	require.Len(t, h.gateway.updates, 1)
	assert.Equal(t, []string{"E2"}, h.gateway.updates[0])
	assert.Equal(t, models.UpdateEventInput{
		ProcessingStageID:      "stage-1",
		Status:                 models.EventStatusOpenForRefinement,
		ActiveAnalystUserNames: []string{"first", "analyst1"},
	}, h.gateway.updateInput[0])
	assert.Equal(t, 1, h.recorder.mutations["updateEvents/success"])
}

func TestLoad_NoAutoOpen(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"disabled", Options{AutoOpen: false}},
		{"scanning", Options{AutoOpen: true, Activity: models.ActivityGlobalScan}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, tt.opts)
			require.NoError(t, h.session.Load(context.Background()))
			assert.Empty(t, h.session.OpenEventID())
			assert.Empty(t, h.gateway.updates)
		})
	}
}

func TestLoad_FallsBackToCachedEvents(t *testing.T) {
	h := newHarness(t, nil, Options{})

	h.gateway.eventsErr = errors.New("status 503")
	err := h.session.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load events")

	h.gateway.eventsErr = nil
	require.NoError(t, h.session.Load(context.Background()))

	h.gateway.eventsErr = errors.New("status 503")
	h.gateway.events = nil
	require.NoError(t, h.session.Load(context.Background()))
	assert.Len(t, h.session.Events(), 3)
}

func TestHandleEventsCreated(t *testing.T) {
	h := newHarness(t, nil, Options{AutoOpen: true})
	ctx := context.Background()

	// not materialized yet
	require.NoError(t, h.session.handleEventsCreated(ctx, eventsCreatedPush(t, event("E4", 300, models.EventStatusReadyForRefinement))))
	assert.Equal(t, pushRecord{"eventsCreated", metrics.OutcomeIgnored, 0, 0}, h.recorder.last())
	assert.Empty(t, h.session.Events())

	require.NoError(t, h.session.Load(ctx))
	before := h.session.Events()

	data := eventsCreatedPush(t,
		event("E2", 999, models.EventStatusComplete),
		event("E4", 300, models.EventStatusReadyForRefinement),
	)
	require.NoError(t, h.session.handleEventsCreated(ctx, data))

	events := h.session.Events()
	require.Len(t, events, 4)
	assert.Equal(t, "E4", events[3].ID)
	// first seen wins
	assert.Equal(t, models.EventStatusReadyForRefinement, events[1].Status)
	assert.Len(t, before, 3, "earlier result must not change")
	assert.Equal(t, pushRecord{"eventsCreated", metrics.OutcomeMerged, 1, 1}, h.recorder.last())
	assert.Equal(t, [][]string{{"E4"}}, h.notifier.created)
	// an event is already open
	assert.Equal(t, "E2", h.session.OpenEventID())
	assert.Len(t, h.gateway.updates, 1)

	// a push of known events changes nothing and notifies nobody
	require.NoError(t, h.session.handleEventsCreated(ctx, data))
	assert.Len(t, h.session.Events(), 4)
	assert.Len(t, h.notifier.created, 1)
	assert.Equal(t, pushRecord{"eventsCreated", metrics.OutcomeMerged, 0, 2}, h.recorder.last())
}

func TestHandleEventsCreated_AutoOpensPushedEvent(t *testing.T) {
	h := newHarness(t, nil, Options{AutoOpen: true})
	h.gateway.events = nil
	ctx := context.Background()

	require.NoError(t, h.session.Load(ctx))
	assert.Empty(t, h.session.OpenEventID())

	require.NoError(t, h.session.handleEventsCreated(ctx, eventsCreatedPush(t, event("E9", 10, models.EventStatusReadyForRefinement))))
	assert.Equal(t, "E9", h.session.OpenEventID())
}

func TestHandleEventsCreated_Rejected(t *testing.T) {
	h := newHarness(t, nil, Options{})
	require.NoError(t, h.session.Load(context.Background()))

	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"missing field", `{"somethingElse":[]}`, "missing required field eventsCreated"},
		{"invalid element", `{"eventsCreated":[{"id":"","status":"Complete"}]}`, "invalid eventsCreated[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.session.handleEventsCreated(context.Background(), json.RawMessage(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, metrics.OutcomeRejected, h.recorder.last().outcome)
			assert.Len(t, h.session.Events(), 3)
		})
	}

	// null data is ignored
	require.NoError(t, h.session.handleEventsCreated(context.Background(), json.RawMessage(`null`)))
	assert.Equal(t, metrics.OutcomeIgnored, h.recorder.last().outcome)
}

func TestHandleDetectionsCreated(t *testing.T) {
	h := newHarness(t, nil, Options{Stations: []string{"ASAR"}})
	h.gateway.detections = []models.SignalDetection{{ID: "sd1", StationID: "ASAR", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "sd1-h"}}}
	require.NoError(t, h.session.Load(context.Background()))

	data := `{"detectionsCreated":[
		{"id":"sd1","stationId":"ASAR","currentHypothesis":{"id":"other"}},
		{"id":"sd2","stationId":"ASAR","currentHypothesis":{"id":"sd2-h"}}
	]}`
	require.NoError(t, h.session.handleDetectionsCreated(context.Background(), json.RawMessage(data)))

	detections := h.session.Detections()
	require.Len(t, detections, 2)
	assert.Equal(t, "sd1-h", detections[0].CurrentHypothesis.ID)
	assert.Equal(t, "sd2", detections[1].ID)
	assert.Equal(t, pushRecord{"detectionsCreated", metrics.OutcomeMerged, 1, 1}, h.recorder.last())
}

func TestHandleChannelSegmentsAdded_FiltersToInterval(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	data := `{"waveformChannelSegmentsAdded":[
		{"channelId":"ASAR.AS01.SHZ","startTime":3500,"endTime":3700},
		{"channelId":"ASAR.AS01.SHZ","startTime":3600,"endTime":3900},
		{"channelId":"WRA.W1.SHZ","startTime":-100,"endTime":10}
	]}`
	require.NoError(t, h.session.handleChannelSegmentsAdded(ctx, json.RawMessage(data)))

	segments := h.session.ChannelSegments()
	require.Len(t, segments, 2)
	assert.Equal(t, "ASAR.AS01.SHZ", segments[0].ChannelID)
	assert.Equal(t, "WRA.W1.SHZ", segments[1].ChannelID)
	assert.Equal(t, pushRecord{"waveformChannelSegmentsAdded", metrics.OutcomeMerged, 2, 0}, h.recorder.last())

	outside := `{"waveformChannelSegmentsAdded":[{"channelId":"X","startTime":4000,"endTime":4100}]}`
	require.NoError(t, h.session.handleChannelSegmentsAdded(ctx, json.RawMessage(outside)))
	assert.Equal(t, metrics.OutcomeIgnored, h.recorder.last().outcome)
	assert.Len(t, h.session.ChannelSegments(), 2)
}

func TestHandleEventsCreated_AfterCacheExpiration(t *testing.T) {
	gateway := &fakeGateway{events: []models.Event{event("E1", 100, models.EventStatusComplete)}}
	recorder := newFakeRecorder()
	c := cache.New(50*time.Millisecond, filepath.Join(t.TempDir(), "cache.json"), 0o644, 0o755)
	session := New(gateway, nil, testSubs, c, nil, recorder, Options{Analyst: "analyst1", Interval: testInterval})
	ctx := context.Background()

	require.NoError(t, session.Load(ctx))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, session.handleEventsCreated(ctx, eventsCreatedPush(t, event("E9", 300, models.EventStatusReadyForRefinement))))
	assert.Equal(t, pushRecord{"eventsCreated", metrics.OutcomeMerged, 1, 0}, recorder.last())
	events := session.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "E9", events[1].ID)
}

func TestHandleQcMasksCreated(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	data := `{"qcMasksCreated":[
		{"id":"m1","channelId":"ASAR.AS01.SHZ","currentVersion":{"version":0,"category":"ANALYST_DEFINED","startTime":3500,"endTime":3700}},
		{"id":"m2","channelId":"ASAR.AS01.SHZ","currentVersion":{"version":0,"category":"ANALYST_DEFINED","startTime":3600,"endTime":3900}},
		{"id":"m3","channelId":"WRA.W1.SHZ","currentVersion":{"version":0,"category":"ANALYST_DEFINED","startTime":10,"endTime":20}}
	]}`
	require.NoError(t, h.session.handleQcMasksCreated(ctx, json.RawMessage(data)))

	masks := h.session.QcMasks()
	require.Len(t, masks, 2)
	assert.Equal(t, "m1", masks[0].ID)
	assert.Equal(t, "m3", masks[1].ID)
	assert.Equal(t, pushRecord{"qcMasksCreated", metrics.OutcomeMerged, 2, 0}, h.recorder.last())

	again := `{"qcMasksCreated":[{"id":"m1","channelId":"ASAR.AS01.SHZ","currentVersion":{"version":1,"category":"REJECTED","startTime":0,"endTime":3600}}]}`
	require.NoError(t, h.session.handleQcMasksCreated(ctx, json.RawMessage(again)))
	assert.Equal(t, pushRecord{"qcMasksCreated", metrics.OutcomeMerged, 0, 1}, h.recorder.last())
	assert.Equal(t, 0, h.session.QcMasks()[0].CurrentVersion.Version)

	outside := `{"qcMasksCreated":[{"id":"m9","channelId":"X","currentVersion":{"startTime":4000,"endTime":4100}}]}`
	require.NoError(t, h.session.handleQcMasksCreated(ctx, json.RawMessage(outside)))
	assert.Equal(t, metrics.OutcomeIgnored, h.recorder.last().outcome)
	assert.Len(t, h.session.QcMasks(), 2)

	require.Error(t, h.session.handleQcMasksCreated(ctx, json.RawMessage(`{"qcMasksCreated":[{"id":""}]}`)))
	assert.Equal(t, metrics.OutcomeRejected, h.recorder.last().outcome)
}

func TestOpenEvent_MutationFailure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	require.NoError(t, h.session.Load(context.Background()))
	h.gateway.updateErr = errors.New("status 500")

	result := h.session.OpenEvent(context.Background(), "E3")
	assert.True(t, result.Found)
	assert.True(t, result.MutationSent)
	assert.Error(t, result.Err)
	assert.Equal(t, "E3", h.session.OpenEventID(), "local open still happens")
	assert.Equal(t, []failure{{operation: "updateEvents", id: "E3"}}, h.notifier.failures)
	assert.Equal(t, 1, h.recorder.mutations["updateEvents/failure"])

	result = h.session.OpenEvent(context.Background(), "missing")
	assert.False(t, result.Found)
	assert.Equal(t, "E3", h.session.OpenEventID())
}

func TestPreferredLocationID(t *testing.T) {
	h := newHarness(t, nil, Options{RestraintOrder: []models.DepthRestraintType{models.DepthRestraintFixedAtDepth}})
	h.gateway.events[0].CurrentEventHypothesis.EventHypothesis.LocationSolutionSets = []models.LocationSolutionSet{{
		ID: "set",
		LocationSolutions: []models.LocationSolution{
			{ID: "surface", LocationRestraint: models.LocationRestraint{DepthRestraintType: models.DepthRestraintFixedAtSurface}},
			{ID: "depth", LocationRestraint: models.LocationRestraint{DepthRestraintType: models.DepthRestraintFixedAtDepth}},
		},
	}}
	require.NoError(t, h.session.Load(context.Background()))

	id, ok := h.session.PreferredLocationID("E1")
	assert.True(t, ok)
	assert.Equal(t, "depth", id)

	_, ok = h.session.PreferredLocationID("E2")
	assert.False(t, ok)
	_, ok = h.session.PreferredLocationID("missing")
	assert.False(t, ok)
}

func TestDetectionStates(t *testing.T) {
	h := newHarness(t, nil, Options{Stations: []string{"ASAR"}})
	assoc := func(hypID string) []models.SignalDetectionEventAssociation {
		return []models.SignalDetectionEventAssociation{{ID: "a-" + hypID, SignalDetectionHypothesis: models.SignalDetectionReference{ID: hypID}}}
	}
	h.gateway.events[0].CurrentEventHypothesis.EventHypothesis.SignalDetectionAssociations = assoc("h-complete")
	h.gateway.events[1].CurrentEventHypothesis.EventHypothesis.SignalDetectionAssociations = assoc("h-open")
	h.gateway.events[2].CurrentEventHypothesis.EventHypothesis.SignalDetectionAssociations = assoc("h-other")
	h.gateway.detections = []models.SignalDetection{
		{ID: "open", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "h-open"}},
		{ID: "complete", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "h-complete"}},
		{ID: "other", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "h-other"}},
		{ID: "free", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "h-free"}},
	}
	require.NoError(t, h.session.Load(context.Background()))
	h.session.OpenEvent(context.Background(), "E2")

	assert.Equal(t, map[string]eventutil.AssociationState{
		"open":     eventutil.StateInProgress,
		"complete": eventutil.StateComplete,
		"other":    eventutil.StateToWork,
		"free":     eventutil.StateUnassociated,
	}, h.session.DetectionStates())
}

func TestMarkActivityInterval(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	_, err := h.session.MarkActivityInterval(ctx, "ai-1", models.IntervalNotStarted, models.IntervalComplete)
	require.Error(t, err)
	assert.Empty(t, h.gateway.marked, "invalid transitions are not sent")

	interval, err := h.session.MarkActivityInterval(ctx, "ai-1", models.IntervalNotStarted, models.IntervalInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.IntervalInProgress, interval.Status)
	assert.Equal(t, []models.MarkActivityIntervalInput{{Status: models.IntervalInProgress, AnalystUserName: "analyst1"}}, h.gateway.marked)
	assert.Equal(t, 1, h.recorder.mutations["markActivityInterval/success"])

	h.gateway.markErr = errors.New("status 500")
	_, err = h.session.MarkActivityInterval(ctx, "ai-1", models.IntervalInProgress, models.IntervalComplete)
	require.Error(t, err)
	assert.Equal(t, []failure{{operation: "markActivityInterval", id: "ai-1"}}, h.notifier.failures)
	assert.Equal(t, 1, h.recorder.mutations["markActivityInterval/failure"])
}

// scriptedSource delivers fixed pushes per subscription, then either reports
// the stream closed once or blocks until ctx is done.
type scriptedSource struct {
	mu        sync.Mutex
	pushes    map[string][]string
	closeOnce map[string]bool
	calls     map[string]int
	delivered chan string
}

func (s *scriptedSource) Subscribe(ctx context.Context, sub push.Subscription, handle push.Handler) error {
	s.mu.Lock()
	s.calls[sub.Name]++
	first := s.calls[sub.Name] == 1
	s.mu.Unlock()

	if first {
		for _, p := range s.pushes[sub.Name] {
			_ = handle(ctx, json.RawMessage(p))
			s.delivered <- sub.Name
		}
		if s.closeOnce[sub.Name] {
			return push.ErrClosed
		}
	} else {
		s.delivered <- sub.Name + ":resubscribed"
	}
	<-ctx.Done()
	return nil
}

func TestRun(t *testing.T) {
	source := &scriptedSource{
		pushes: map[string][]string{
			"eventsCreated": {
				`{"eventsCreated":[{"id":"E5","status":"ReadyForRefinement","currentEventHypothesis":{"processingStageId":"stage-1","eventHypothesis":{"id":"E5-hyp"}}}]}`,
				`{"eventsCreated":[{"id":"E6","status":"ReadyForRefinement","currentEventHypothesis":{"processingStageId":"stage-1","eventHypothesis":{"id":"E6-hyp"}}}]}`,
			},
			"waveformChannelSegmentsAdded": {
				`{"waveformChannelSegmentsAdded":[{"channelId":"ASAR.AS01.SHZ","startTime":10,"endTime":20}]}`,
			},
		},
		closeOnce: map[string]bool{"detectionsCreated": true},
		calls:     make(map[string]int),
		delivered: make(chan string, 16),
	}
	h := newHarness(t, source, Options{ResubscribeGap: time.Millisecond})
	require.NoError(t, h.session.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Run(ctx) }()

	want := map[string]int{"eventsCreated": 2, "waveformChannelSegmentsAdded": 1, "detectionsCreated:resubscribed": 1}
	got := make(map[string]int)
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) || got["eventsCreated"] < 2 {
		select {
		case name := <-source.delivered:
			got[name]++
		case <-timeout:
			t.Fatalf("deliveries so far: %v", got)
		}
	}
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, want, got)
	events := h.session.Events()
	require.Len(t, events, 5)
	assert.Equal(t, "E5", events[3].ID)
	assert.Equal(t, "E6", events[4].ID)
	assert.Len(t, h.session.ChannelSegments(), 1)
	assert.Equal(t, [][]string{{"E5"}, {"E6"}}, h.notifier.created)
}

func predictedEvent(id string, t float64) models.Event {
	e := event(id, t, models.EventStatusReadyForRefinement)
	arrival := func(station string, at float64) models.FeaturePrediction {
		return models.FeaturePrediction{
			Phase:          "P",
			PredictionType: models.MeasurementArrivalTime,
			StationID:      station,
			PredictedValue: models.InstantMeasurementValue{Value: at},
		}
	}
	e.CurrentEventHypothesis.EventHypothesis.LocationSolutionSets = []models.LocationSolutionSet{{
		ID:    id + "-set",
		Count: 1,
		LocationSolutions: []models.LocationSolution{{
			ID:                 id + "-ls",
			LocationRestraint:  models.LocationRestraint{DepthRestraintType: models.DepthRestraintUnrestrained},
			FeaturePredictions: []models.FeaturePrediction{arrival("ASAR", t+60), arrival("WRA", t+30)},
		}},
	}}
	return e
}

func TestOffsets(t *testing.T) {
	h := newHarness(t, nil, Options{AlignPhase: "P"})
	h.gateway.events = []models.Event{predictedEvent("E1", 100), event("E2", 200, models.EventStatusReadyForRefinement)}
	require.NoError(t, h.session.Load(context.Background()))

	_, ok := h.session.Offsets("P")
	assert.False(t, ok, "nothing is open")

	h.session.OpenEvent(context.Background(), "E1")
	offsets, ok := h.session.Offsets("P")
	require.True(t, ok)
	assert.Equal(t, []eventutil.Offset{{StationID: "ASAR", Offset: -30}, {StationID: "WRA", Offset: 0}}, offsets)

	offsets, ok = h.session.EventOffsets("E1", "S")
	require.True(t, ok)
	assert.Empty(t, offsets)

	_, ok = h.session.EventOffsets("E2", "P")
	assert.False(t, ok, "no location solution sets")
	_, ok = h.session.EventOffsets("missing", "P")
	assert.False(t, ok)
}

func TestTransferredFiles(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.gateway.files = []models.TransferredFile{{FileName: "f1", TransferStatus: "RECEIVED"}}

	files, err := h.session.TransferredFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.gateway.files, files)
}

func TestSaveReferenceStation(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	ok, err := h.session.SaveReferenceStation(ctx, models.ReferenceStation{Name: "MKAR"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, h.recorder.mutations["saveReferenceStation/success"])

	h.gateway.stationErr = errors.New("status 500")
	_, err = h.session.SaveReferenceStation(ctx, models.ReferenceStation{Name: "BAD"})
	require.Error(t, err)
	assert.Equal(t, []failure{{operation: "saveReferenceStation", id: "BAD"}}, h.notifier.failures)
	assert.Equal(t, 1, h.recorder.mutations["saveReferenceStation/failure"])
}

func TestComputeFks(t *testing.T) {
	h := newHarness(t, nil, Options{Stations: []string{"ASAR"}})
	h.gateway.detections = []models.SignalDetection{
		{ID: "sd1", StationID: "ASAR", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "sd1-h"}},
		{ID: "sd2", StationID: "ASAR", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "sd2-h"}},
	}
	require.NoError(t, h.session.Load(context.Background()))
	before := h.session.Detections()

	h.gateway.fkResult = []models.SignalDetection{
		{ID: "sd2", StationID: "ASAR", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "sd2-fk"}},
		{ID: "elsewhere", StationID: "WRA", CurrentHypothesis: models.SignalDetectionHypothesis{ID: "x"}},
	}
	inputs := []models.FkInput{{SignalDetectionID: "sd2"}}
	updated, err := h.session.ComputeFks(context.Background(), inputs)
	require.NoError(t, err)
	assert.Len(t, updated, 2)
	assert.Equal(t, inputs, h.gateway.fkInputs)

	detections := h.session.Detections()
	require.Len(t, detections, 2, "unknown detections are not added")
	assert.Equal(t, "sd1-h", detections[0].CurrentHypothesis.ID)
	assert.Equal(t, "sd2-fk", detections[1].CurrentHypothesis.ID)
	assert.Equal(t, "sd2-h", before[1].CurrentHypothesis.ID, "earlier result must not change")
	assert.Equal(t, 1, h.recorder.mutations["computeFks/success"])

	h.gateway.fkErr = errors.New("status 500")
	_, err = h.session.ComputeFks(context.Background(), []models.FkInput{{SignalDetectionID: "sd1"}, {SignalDetectionID: "sd2"}})
	require.Error(t, err)
	assert.Equal(t, []failure{{operation: "computeFks", id: "sd1,sd2"}}, h.notifier.failures)
}
