// internal/engine/engine_test.go
package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partner-portal-engine/internal/common/clock"
	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/models"
	"partner-portal-engine/internal/notify"
)

var engineNow = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

// ==========================
// Test Helper Functions
// ==========================

type fakeStore struct {
	mu sync.Mutex

	request  *models.QuoteRequest
	response *models.QuoteResponse

	createdResponses []*models.QuoteResponse
	createdRevisions []*models.RevisionRequest
	responseTimes    []int

	requestCASResult  bool
	responseCASResult bool
	pendingRevision   bool
	applyResult       bool
	rejectResult      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		request: &models.QuoteRequest{
			ID:          "req-1",
			RequesterID: "user-1",
			PartnerID:   "partner-1",
			Status:      models.RequestStatusPending,
			CreatedAt:   engineNow.Add(-2*time.Hour - 15*time.Minute),
		},
		response: &models.QuoteResponse{
			ID:                 "resp-1",
			QuoteRequestID:     "req-1",
			PartnerID:          "partner-1",
			QuoteNumber:        "QT-20260305-AB12CD",
			DiscountAmount:     0,
			TaxRateBasisPoints: 2000,
			Status:             models.ResponseStatusSent,
		},
		requestCASResult:  true,
		responseCASResult: true,
		applyResult:       true,
		rejectResult:      true,
	}
}

func (f *fakeStore) GetQuoteRequestByID(ctx context.Context, id string) (*models.QuoteRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.request == nil || f.request.ID != id {
		return nil, stderrors.NewNotFoundError("quote_request", id)
	}
	copied := *f.request
	return &copied, nil
}

func (f *fakeStore) GetQuoteResponseByID(ctx context.Context, id string) (*models.QuoteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.response == nil || f.response.ID != id {
		return nil, stderrors.NewNotFoundError("quote_response", id)
	}
	copied := *f.response
	return &copied, nil
}

func (f *fakeStore) CreateQuoteResponse(ctx context.Context, resp *models.QuoteResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdResponses = append(f.createdResponses, resp)
	return nil
}

func (f *fakeStore) ConditionalUpdateResponseStatus(ctx context.Context, id string, from, to models.QuoteResponseStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.responseCASResult && f.response != nil && f.response.ID == id {
		f.response.Status = to
	}
	return f.responseCASResult, nil
}

func (f *fakeStore) ConditionalUpdateRequestStatus(ctx context.Context, id string, from, to models.QuoteRequestStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestCASResult && f.request != nil && f.request.ID == id {
		f.request.Status = to
	}
	return f.requestCASResult, nil
}

func (f *fakeStore) SetResponseTime(ctx context.Context, requestID string, minutes int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responseTimes = append(f.responseTimes, minutes)
	return true, nil
}

func (f *fakeStore) HasPendingRevision(ctx context.Context, quoteResponseID string) (bool, error) {
	return f.pendingRevision, nil
}

func (f *fakeStore) CreateRevisionRequest(ctx context.Context, rev *models.RevisionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRevisions = append(f.createdRevisions, rev)
	return nil
}

func (f *fakeStore) ApplyRevisionAccepted(ctx context.Context, revisionID string, resp *models.QuoteResponse, partnerResponse *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyResult {
		f.response = resp
	}
	return f.applyResult, nil
}

func (f *fakeStore) RejectRevision(ctx context.Context, revisionID string, partnerResponse *string) (bool, error) {
	return f.rejectResult, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Dispatch(ctx context.Context, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func newTestEngine(t *testing.T, store *fakeStore) (*Engine, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return New(store, notifier, clock.NewFixed(engineNow), logger.NewTestLogger(t)), notifier
}

func testInput() QuoteResponseInput {
	validUntil := engineNow.Add(7 * 24 * time.Hour)
	return QuoteResponseInput{
		QuoteRequestID: "req-1",
		PartnerID:      "partner-1",
		Items: []models.QuoteItem{
			{Description: "Design work", Quantity: 2, UnitPrice: 5000},
			{Description: "Installation", Quantity: 1, UnitPrice: 15000},
		},
		TaxRateBasisPoints: 2000,
		Currency:           "EUR",
		ValidUntil:         &validUntil,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestOnQuoteResponseCreated_FromPending(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	resp, err := e.OnQuoteResponseCreated(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, int64(25000), resp.Subtotal)
	assert.Equal(t, int64(5000), resp.TaxAmount)
	assert.Equal(t, int64(30000), resp.TotalAmount)
	assert.Equal(t, models.ResponseStatusSent, resp.Status)
	assert.Equal(t, int64(10000), resp.Items[0].LineTotal)
	assert.True(t, strings.HasPrefix(resp.QuoteNumber, "QT-20260305-"))

	// The request moved to quote_sent and the first-response time was stamped.
	assert.Equal(t, models.RequestStatusQuoteSent, store.request.Status)
	assert.Equal(t, []int{135}, store.responseTimes)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventQuoteResponseCreated, notifier.events[0].Type)
	assert.Equal(t, models.RequestStatusQuoteSent, notifier.events[0].Request.Status)
}

func TestOnQuoteResponseCreated_DiscountPercent(t *testing.T) {
	store := newFakeStore()
	e, _ := newTestEngine(t, store)

	input := testInput()
	input.DiscountPercent = 10

	resp, err := e.OnQuoteResponseCreated(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, int64(2500), resp.DiscountAmount)
	// Tax on the discounted base: 22500 * 20% = 4500.
	assert.Equal(t, int64(4500), resp.TaxAmount)
	assert.Equal(t, int64(27000), resp.TotalAmount)
}

func TestOnQuoteResponseCreated_RequestNotOpen(t *testing.T) {
	store := newFakeStore()
	store.request.Status = models.RequestStatusAccepted
	e, notifier := newTestEngine(t, store)

	_, err := e.OnQuoteResponseCreated(context.Background(), testInput())
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeInvalidTransition, stderrors.CodeOf(err))
	assert.Empty(t, notifier.events)
}

func TestOnQuoteResponseCreated_LostRequestRace(t *testing.T) {
	store := newFakeStore()
	store.requestCASResult = false
	e, notifier := newTestEngine(t, store)

	_, err := e.OnQuoteResponseCreated(context.Background(), testInput())
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeConflict, stderrors.CodeOf(err))
	assert.Empty(t, notifier.events)
}

func TestOnQuoteResponseCreated_DiscountExceedsSubtotal(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	input := testInput()
	input.Items = []models.QuoteItem{{Description: "small", Quantity: 1, UnitPrice: 1000}}
	input.DiscountAmount = 1500

	_, err := e.OnQuoteResponseCreated(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds subtotal")

	// Nothing was persisted and the request never left pending.
	assert.Empty(t, store.createdResponses)
	assert.Equal(t, models.RequestStatusPending, store.request.Status)
	assert.Empty(t, notifier.events)
}

func TestOnQuoteResponseCreated_InvalidItems(t *testing.T) {
	store := newFakeStore()
	e, _ := newTestEngine(t, store)

	input := testInput()
	input.Items = nil

	_, err := e.OnQuoteResponseCreated(context.Background(), input)
	assert.Error(t, err)
	assert.Empty(t, store.createdResponses)
}

func TestOnQuoteAccepted(t *testing.T) {
	store := newFakeStore()
	store.request.Status = models.RequestStatusQuoteSent
	e, notifier := newTestEngine(t, store)

	err := e.OnQuoteAccepted(context.Background(), "resp-1")
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusAccepted, store.response.Status)
	assert.Equal(t, models.RequestStatusAccepted, store.request.Status)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventQuoteAccepted, notifier.events[0].Type)
}

func TestOnQuoteAccepted_AlreadyExpired(t *testing.T) {
	store := newFakeStore()
	store.response.Status = models.ResponseStatusExpired
	e, notifier := newTestEngine(t, store)

	err := e.OnQuoteAccepted(context.Background(), "resp-1")
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeInvalidTransition, stderrors.CodeOf(err))
	assert.Empty(t, notifier.events)
}

func TestOnQuoteAccepted_RequestDidNotFollow(t *testing.T) {
	store := newFakeStore()
	store.request.Status = models.RequestStatusCompleted
	store.requestCASResult = false
	e, notifier := newTestEngine(t, store)

	// The response still resolves and fans out even when the request already
	// left quote_sent; the mismatch is only logged.
	err := e.OnQuoteAccepted(context.Background(), "resp-1")
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusAccepted, store.response.Status)
	assert.Equal(t, models.RequestStatusCompleted, store.request.Status)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventQuoteAccepted, notifier.events[0].Type)
}

func TestOnQuoteRejected(t *testing.T) {
	store := newFakeStore()
	store.request.Status = models.RequestStatusQuoteSent
	e, notifier := newTestEngine(t, store)

	err := e.OnQuoteRejected(context.Background(), "resp-1")
	require.NoError(t, err)

	assert.Equal(t, models.ResponseStatusRejected, store.response.Status)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventQuoteRejected, notifier.events[0].Type)
}

func TestOnRevisionRequested(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	rev := &models.RevisionRequest{
		QuoteResponseID: "resp-1",
		RequesterID:     "user-1",
		RequestedItems:  []models.QuoteItem{{Description: "Design work", Quantity: 1, UnitPrice: 8000}},
	}

	err := e.OnRevisionRequested(context.Background(), rev)
	require.NoError(t, err)

	require.Len(t, store.createdRevisions, 1)
	created := store.createdRevisions[0]
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.RevisionStatusPending, created.Status)
	assert.Equal(t, int64(8000), created.RequestedItems[0].LineTotal)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventRevisionRequested, notifier.events[0].Type)
}

func TestOnRevisionRequested_SecondPendingRejected(t *testing.T) {
	store := newFakeStore()
	store.pendingRevision = true
	e, notifier := newTestEngine(t, store)

	rev := &models.RevisionRequest{
		QuoteResponseID: "resp-1",
		RequestedItems:  []models.QuoteItem{{Quantity: 1, UnitPrice: 8000}},
	}

	err := e.OnRevisionRequested(context.Background(), rev)
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeRevisionPending, stderrors.CodeOf(err))
	assert.Empty(t, store.createdRevisions)
	assert.Empty(t, notifier.events)
}

func TestOnRevisionRequested_QuoteNotActive(t *testing.T) {
	store := newFakeStore()
	store.response.Status = models.ResponseStatusAccepted
	e, _ := newTestEngine(t, store)

	rev := &models.RevisionRequest{
		QuoteResponseID: "resp-1",
		RequestedItems:  []models.QuoteItem{{Quantity: 1, UnitPrice: 8000}},
	}

	err := e.OnRevisionRequested(context.Background(), rev)
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeConflict, stderrors.CodeOf(err))
}

func TestOnRevisionAccepted_RepricesQuote(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	rev := &models.RevisionRequest{
		ID:              "rev-1",
		QuoteResponseID: "resp-1",
		Status:          models.RevisionStatusPending,
		RequestedItems:  []models.QuoteItem{{Description: "Design work", Quantity: 1, UnitPrice: 8000}},
	}

	err := e.OnRevisionAccepted(context.Background(), rev, nil)
	require.NoError(t, err)

	// Totals recomputed with the original tax rate.
	assert.Equal(t, int64(8000), store.response.Subtotal)
	assert.Equal(t, int64(1600), store.response.TaxAmount)
	assert.Equal(t, int64(9600), store.response.TotalAmount)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventRevisionAccepted, notifier.events[0].Type)
}

func TestOnRevisionAccepted_LostRace(t *testing.T) {
	store := newFakeStore()
	store.applyResult = false
	e, notifier := newTestEngine(t, store)

	rev := &models.RevisionRequest{
		ID:              "rev-1",
		QuoteResponseID: "resp-1",
		RequestedItems:  []models.QuoteItem{{Quantity: 1, UnitPrice: 8000}},
	}

	err := e.OnRevisionAccepted(context.Background(), rev, nil)
	require.Error(t, err)
	assert.Equal(t, stderrors.ErrCodeConflict, stderrors.CodeOf(err))
	assert.Empty(t, notifier.events)
}

func TestOnRevisionRejected(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	rev := &models.RevisionRequest{ID: "rev-1", QuoteResponseID: "resp-1"}
	reason := "Cannot go lower on materials"

	err := e.OnRevisionRejected(context.Background(), rev, &reason)
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventRevisionRejected, notifier.events[0].Type)
}

func TestOnNewFollower(t *testing.T) {
	store := newFakeStore()
	e, notifier := newTestEngine(t, store)

	err := e.OnNewFollower(context.Background(), "partner-1", "Margaret Hamilton")
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	ev := notifier.events[0]
	assert.Equal(t, notify.EventNewFollower, ev.Type)
	assert.Equal(t, "partner-1", ev.PartnerID)
	assert.Equal(t, "Margaret Hamilton", ev.Extra["fullName"])
}
