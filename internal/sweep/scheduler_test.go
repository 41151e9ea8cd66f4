// internal/sweep/scheduler_test.go
package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner-portal-engine/internal/common/clock"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/models"
	"partner-portal-engine/internal/notify"
)

var tickNow = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

// ==========================
// Test Helper Functions
// ==========================

type fakeStore struct {
	mu sync.Mutex

	listFunc        func(ctx context.Context) ([]models.QuoteResponse, error)
	responseUpdates []string
	requestUpdates  []string
	warningsMarked  []string

	responseUpdateResult bool
	responseUpdateErr    error
	warningResult        bool
	requests             map[string]*models.QuoteRequest
}

func newFakeStore(responses ...models.QuoteResponse) *fakeStore {
	return &fakeStore{
		listFunc: func(ctx context.Context) ([]models.QuoteResponse, error) {
			return responses, nil
		},
		responseUpdateResult: true,
		warningResult:        true,
		requests: map[string]*models.QuoteRequest{
			"req-1": {ID: "req-1", RequesterID: "user-1", PartnerID: "partner-1", Status: models.RequestStatusQuoteSent},
		},
	}
}

func (f *fakeStore) ListActiveQuoteResponses(ctx context.Context) ([]models.QuoteResponse, error) {
	return f.listFunc(ctx)
}

func (f *fakeStore) ConditionalUpdateResponseStatus(ctx context.Context, id string, from, to models.QuoteResponseStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responseUpdateErr != nil {
		return false, f.responseUpdateErr
	}
	f.responseUpdates = append(f.responseUpdates, id)
	return f.responseUpdateResult, nil
}

func (f *fakeStore) ConditionalUpdateRequestStatus(ctx context.Context, id string, from, to models.QuoteRequestStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestUpdates = append(f.requestUpdates, id)
	return true, nil
}

func (f *fakeStore) MarkWarningSent(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warningsMarked = append(f.warningsMarked, id)
	return f.warningResult, nil
}

func (f *fakeStore) GetQuoteRequestByID(ctx context.Context, id string) (*models.QuoteRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.requests[id]; ok {
		return req, nil
	}
	return nil, errors.New("request not found")
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	events []notify.Event
}

func (f *fakeNotifier) Dispatch(ctx context.Context, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) eventTypes() []notify.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]notify.EventType, len(f.events))
	for i, ev := range f.events {
		types[i] = ev.Type
	}
	return types
}

func activeResponse(id string, validUntil time.Time) models.QuoteResponse {
	return models.QuoteResponse{
		ID:             id,
		QuoteRequestID: "req-1",
		PartnerID:      "partner-1",
		QuoteNumber:    "QT-20260301-AB12CD",
		ValidUntil:     &validUntil,
		Status:         models.ResponseStatusSent,
	}
}

func newTestScheduler(t *testing.T, store Store, notifier Notifier) *Scheduler {
	return New(
		Config{
			Interval:      time.Hour,
			WarningWindow: 24 * time.Hour,
			Concurrency:   1,
		},
		store, notifier, clock.NewFixed(tickNow), nil, logger.NewTestLogger(t),
	)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestTick_ExpiresPastDeadline(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(-time.Hour)))
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"resp-1"}, store.responseUpdates)
	assert.Equal(t, []string{"req-1"}, store.requestUpdates)
	assert.Empty(t, store.warningsMarked)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, notify.EventQuoteExpired, ev.Type)
	assert.Equal(t, "req-1", ev.Request.ID)
	assert.Equal(t, models.ResponseStatusExpired, ev.Response.Status)
}

func TestTick_ExpiresExactlyAtDeadline(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow))
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	// validUntil == now counts as expired, not as still active.
	assert.Equal(t, []string{"resp-1"}, store.responseUpdates)
}

func TestTick_WarnsInsideWindow(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(12*time.Hour)))
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.responseUpdates)
	assert.Equal(t, []string{"resp-1"}, store.warningsMarked)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, notify.EventQuoteExpiringSoon, ev.Type)
	assert.NotEmpty(t, ev.Extra["validUntil"])
}

func TestTick_WarnsExactlyAtWindowBoundary(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(24*time.Hour)))
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	// validUntil == now + window is inside the warning window.
	assert.Equal(t, []string{"resp-1"}, store.warningsMarked)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventQuoteExpiringSoon, notifier.events[0].Type)
}

func TestTick_QuietOutsideWindow(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(72*time.Hour)))
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, store.responseUpdates)
	assert.Empty(t, store.warningsMarked)
	assert.Empty(t, notifier.events)
}

func TestTick_WarningAlreadySentIsSkipped(t *testing.T) {
	resp := activeResponse("resp-1", tickNow.Add(12*time.Hour))
	sentAt := tickNow.Add(-time.Hour)
	resp.WarningSentAt = &sentAt

	store := newFakeStore(resp)
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, store.warningsMarked)
	assert.Empty(t, notifier.events)
}

func TestTick_WarningGuardLostMeansNoDispatch(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(12*time.Hour)))
	store.warningResult = false // another tick already stamped it
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, []string{"resp-1"}, store.warningsMarked)
	assert.Empty(t, notifier.events)
}

func TestTick_LostExpiryRaceMeansNoDispatch(t *testing.T) {
	store := newFakeStore(activeResponse("resp-1", tickNow.Add(-time.Hour)))
	store.responseUpdateResult = false // customer accepted concurrently
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	assert.Empty(t, store.requestUpdates)
	assert.Empty(t, notifier.events)
}

func TestTick_DoubleTickIsIdempotent(t *testing.T) {
	expired := activeResponse("resp-1", tickNow.Add(-time.Hour))
	store := newFakeStore(expired)
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	require.NoError(t, s.Tick(context.Background()))

	// Second tick: the row would no longer match the sent-status guard.
	store.responseUpdateResult = false
	require.NoError(t, s.Tick(context.Background()))

	assert.Equal(t, []notify.EventType{notify.EventQuoteExpired}, notifier.eventTypes())
}

func TestTick_ItemFailureDoesNotStopTheSweep(t *testing.T) {
	store := newFakeStore(
		activeResponse("resp-1", tickNow.Add(-time.Hour)),
		activeResponse("resp-2", tickNow.Add(-time.Hour)),
	)
	delete(store.requests, "req-1") // force a dispatch lookup failure for both items
	notifier := &fakeNotifier{}
	s := newTestScheduler(t, store, notifier)

	err := s.Tick(context.Background())
	require.NoError(t, err)

	// Both quotes were still expired despite the dispatch lookups failing.
	assert.ElementsMatch(t, []string{"resp-1", "resp-2"}, store.responseUpdates)
}

func TestTick_ListFailureFailsTheTick(t *testing.T) {
	store := newFakeStore()
	store.listFunc = func(ctx context.Context) ([]models.QuoteResponse, error) {
		return nil, errors.New("connection refused")
	}
	s := newTestScheduler(t, store, &fakeNotifier{})

	err := s.Tick(context.Background())
	assert.Error(t, err)
}

func TestTick_SkipsWhenPreviousTickStillRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var listCalls int
	var mu sync.Mutex

	store := newFakeStore()
	store.listFunc = func(ctx context.Context) ([]models.QuoteResponse, error) {
		mu.Lock()
		listCalls++
		mu.Unlock()
		close(started)
		<-release
		return nil, nil
	}
	s := newTestScheduler(t, store, &fakeNotifier{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Tick(context.Background())
	}()

	<-started
	// Overlapping tick returns immediately without touching the store.
	require.NoError(t, s.Tick(context.Background()))
	mu.Lock()
	assert.Equal(t, 1, listCalls)
	mu.Unlock()

	close(release)
	<-done
}

func TestStartStop(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(t, store, &fakeNotifier{})

	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	// Idempotent start.
	s.Start(context.Background())

	s.Stop()
	assert.False(t, s.IsRunning())

	// Idempotent stop.
	s.Stop()
}
