// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"partner-portal-engine/internal/common/clock"
	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/lifecycle"
	"partner-portal-engine/internal/models"
	"partner-portal-engine/internal/notify"
)

// Store is the slice of the quote store the engine drives.
type Store interface {
	GetQuoteRequestByID(ctx context.Context, id string) (*models.QuoteRequest, error)
	GetQuoteResponseByID(ctx context.Context, id string) (*models.QuoteResponse, error)
	CreateQuoteResponse(ctx context.Context, resp *models.QuoteResponse) error
	ConditionalUpdateResponseStatus(ctx context.Context, id string, from, to models.QuoteResponseStatus) (bool, error)
	ConditionalUpdateRequestStatus(ctx context.Context, id string, from, to models.QuoteRequestStatus) (bool, error)
	SetResponseTime(ctx context.Context, requestID string, minutes int) (bool, error)
	HasPendingRevision(ctx context.Context, quoteResponseID string) (bool, error)
	CreateRevisionRequest(ctx context.Context, rev *models.RevisionRequest) error
	ApplyRevisionAccepted(ctx context.Context, revisionID string, resp *models.QuoteResponse, partnerResponse *string) (bool, error)
	RejectRevision(ctx context.Context, revisionID string, partnerResponse *string) (bool, error)
}

// Notifier fans out one lifecycle event.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// Engine is the write-side entry point for quote lifecycle changes. Every
// hook validates the transition, applies it through a conditional update, and
// only then fans out notifications — a failed fan-out never rolls the
// transition back.
type Engine struct {
	store    Store
	notifier Notifier
	clock    clock.Clock
	logger   logger.Logger
}

func New(store Store, notifier Notifier, clk clock.Clock, log logger.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		clock:    clk,
		logger:   log.WithFields(map[string]interface{}{"component": "engine"}),
	}
}

// OnQuoteRequestCreated fans out the arrival of a new quote request.
func (e *Engine) OnQuoteRequestCreated(ctx context.Context, req *models.QuoteRequest) error {
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:    notify.EventQuoteRequestCreated,
		Request: req,
	})
}

// QuoteResponseInput is a partner's priced answer before totals are derived.
type QuoteResponseInput struct {
	QuoteRequestID     string
	PartnerID          string
	Items              []models.QuoteItem
	DiscountAmount     int64
	DiscountPercent    int64
	TaxRateBasisPoints int64
	Currency           string
	ValidUntil         *time.Time
}

// OnQuoteResponseCreated prices and persists a new quote response, moves the
// request to quote_sent, and records the partner's first response time.
func (e *Engine) OnQuoteResponseCreated(ctx context.Context, input QuoteResponseInput) (*models.QuoteResponse, error) {
	req, err := e.store.GetQuoteRequestByID(ctx, input.QuoteRequestID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckRequestTransition(req.Status, models.RequestStatusQuoteSent); err != nil {
		return nil, err
	}

	items := lifecycle.FillLineTotals(input.Items)
	discount := input.DiscountAmount
	if discount == 0 && input.DiscountPercent > 0 {
		var subtotal int64
		for _, item := range items {
			subtotal += item.LineTotal
		}
		discount = lifecycle.DiscountFromPercent(subtotal, input.DiscountPercent)
	}
	totals, err := lifecycle.ComputeTotals(items, discount, input.TaxRateBasisPoints)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	resp := &models.QuoteResponse{
		ID:                 uuid.New().String(),
		QuoteRequestID:     input.QuoteRequestID,
		PartnerID:          input.PartnerID,
		QuoteNumber:        newQuoteNumber(now),
		Items:              items,
		Subtotal:           totals.Subtotal,
		DiscountAmount:     totals.DiscountAmount,
		DiscountPercent:    input.DiscountPercent,
		TaxRateBasisPoints: input.TaxRateBasisPoints,
		TaxAmount:          totals.TaxAmount,
		TotalAmount:        totals.TotalAmount,
		Currency:           input.Currency,
		ValidUntil:         input.ValidUntil,
		Status:             models.ResponseStatusSent,
	}
	if err := e.store.CreateQuoteResponse(ctx, resp); err != nil {
		return nil, err
	}

	moved, err := e.store.ConditionalUpdateRequestStatus(ctx, req.ID, req.Status, models.RequestStatusQuoteSent)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, stderrors.NewConflictError("quote_request", req.ID, string(req.Status))
	}

	if _, err := e.store.SetResponseTime(ctx, req.ID, lifecycle.ResponseTimeMinutes(req.CreatedAt, now)); err != nil {
		e.logger.Warn("failed to record response time", map[string]interface{}{
			"quoteRequestId": req.ID,
			"error":          err.Error(),
		})
	}

	e.logger.Info("quote response created", map[string]interface{}{
		"quoteResponseId": resp.ID,
		"quoteNumber":     resp.QuoteNumber,
		"totalAmount":     resp.TotalAmount,
	})

	req.Status = models.RequestStatusQuoteSent
	if err := e.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventQuoteResponseCreated,
		Request:  req,
		Response: resp,
	}); err != nil {
		e.logger.Error("quote response fan-out failed", map[string]interface{}{
			"quoteResponseId": resp.ID,
			"error":           err.Error(),
		})
	}
	return resp, nil
}

// OnQuoteAccepted moves a sent response and its request to accepted.
func (e *Engine) OnQuoteAccepted(ctx context.Context, responseID string) error {
	return e.resolveQuote(ctx, responseID,
		models.ResponseStatusAccepted, models.RequestStatusAccepted, notify.EventQuoteAccepted)
}

// OnQuoteRejected moves a sent response and its request to rejected.
func (e *Engine) OnQuoteRejected(ctx context.Context, responseID string) error {
	return e.resolveQuote(ctx, responseID,
		models.ResponseStatusRejected, models.RequestStatusRejected, notify.EventQuoteRejected)
}

func (e *Engine) resolveQuote(ctx context.Context, responseID string, respStatus models.QuoteResponseStatus, reqStatus models.QuoteRequestStatus, event notify.EventType) error {
	resp, err := e.store.GetQuoteResponseByID(ctx, responseID)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckResponseTransition(resp.Status, respStatus); err != nil {
		return err
	}

	moved, err := e.store.ConditionalUpdateResponseStatus(ctx, resp.ID, models.ResponseStatusSent, respStatus)
	if err != nil {
		return err
	}
	if !moved {
		return stderrors.NewConflictError("quote_response", resp.ID, string(resp.Status))
	}

	requestMoved, err := e.store.ConditionalUpdateRequestStatus(ctx, resp.QuoteRequestID, models.RequestStatusQuoteSent, reqStatus)
	if err != nil {
		return err
	}
	if !requestMoved {
		e.logger.Warn("quote request did not follow response status", map[string]interface{}{
			"quoteRequestId": resp.QuoteRequestID,
			"status":         string(reqStatus),
		})
	}
	resp.Status = respStatus

	req, err := e.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	if err := e.notifier.Dispatch(ctx, notify.Event{
		Type:     event,
		Request:  req,
		Response: resp,
	}); err != nil {
		e.logger.Error("quote resolution fan-out failed", map[string]interface{}{
			"quoteResponseId": resp.ID,
			"event":           string(event),
			"error":           err.Error(),
		})
	}
	return nil
}

// OnRevisionRequested records a customer's counter-proposal on a still-active
// quote. At most one revision may be pending per quote response.
func (e *Engine) OnRevisionRequested(ctx context.Context, rev *models.RevisionRequest) error {
	resp, err := e.store.GetQuoteResponseByID(ctx, rev.QuoteResponseID)
	if err != nil {
		return err
	}
	if resp.Status != models.ResponseStatusSent {
		return stderrors.NewConflictError("quote_response", resp.ID, string(resp.Status))
	}

	pending, err := e.store.HasPendingRevision(ctx, rev.QuoteResponseID)
	if err != nil {
		return err
	}
	if pending {
		return stderrors.NewRevisionPendingError(rev.QuoteResponseID)
	}

	if err := lifecycle.ValidateItems(rev.RequestedItems); err != nil {
		return err
	}
	rev.RequestedItems = lifecycle.FillLineTotals(rev.RequestedItems)
	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}
	rev.Status = models.RevisionStatusPending

	if err := e.store.CreateRevisionRequest(ctx, rev); err != nil {
		return err
	}

	req, err := e.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventRevisionRequested,
		Request:  req,
		Response: resp,
	})
}

// OnRevisionAccepted reprices the quote response from the revision's
// requested items, keeping the original discount and tax rate, and resolves
// the revision. Both rows change in one transaction.
func (e *Engine) OnRevisionAccepted(ctx context.Context, rev *models.RevisionRequest, partnerResponse *string) error {
	resp, err := e.store.GetQuoteResponseByID(ctx, rev.QuoteResponseID)
	if err != nil {
		return err
	}
	if resp.Status != models.ResponseStatusSent {
		return stderrors.NewConflictError("quote_response", resp.ID, string(resp.Status))
	}

	items := lifecycle.FillLineTotals(rev.RequestedItems)
	totals, err := lifecycle.ComputeTotals(items, resp.DiscountAmount, resp.TaxRateBasisPoints)
	if err != nil {
		return err
	}
	resp.Items = items
	resp.Subtotal = totals.Subtotal
	resp.DiscountAmount = totals.DiscountAmount
	resp.TaxAmount = totals.TaxAmount
	resp.TotalAmount = totals.TotalAmount

	applied, err := e.store.ApplyRevisionAccepted(ctx, rev.ID, resp, partnerResponse)
	if err != nil {
		return err
	}
	if !applied {
		return stderrors.NewConflictError("revision_request", rev.ID, string(rev.Status))
	}

	e.logger.Info("revision accepted", map[string]interface{}{
		"revisionId":      rev.ID,
		"quoteResponseId": resp.ID,
		"totalAmount":     resp.TotalAmount,
	})

	req, err := e.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventRevisionAccepted,
		Request:  req,
		Response: resp,
	})
}

// OnRevisionRejected resolves a pending revision without touching the quote.
func (e *Engine) OnRevisionRejected(ctx context.Context, rev *models.RevisionRequest, partnerResponse *string) error {
	rejected, err := e.store.RejectRevision(ctx, rev.ID, partnerResponse)
	if err != nil {
		return err
	}
	if !rejected {
		return stderrors.NewConflictError("revision_request", rev.ID, string(rev.Status))
	}

	resp, err := e.store.GetQuoteResponseByID(ctx, rev.QuoteResponseID)
	if err != nil {
		return err
	}
	req, err := e.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventRevisionRejected,
		Request:  req,
		Response: resp,
	})
}

// OnPartnerApplication notifies admins of a new partner application.
func (e *Engine) OnPartnerApplication(ctx context.Context, partnerID, companyName string) error {
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:      notify.EventPartnerApplication,
		PartnerID: partnerID,
		Extra:     map[string]string{"companyName": companyName},
	})
}

// OnNewFollower notifies a partner that someone started following them.
func (e *Engine) OnNewFollower(ctx context.Context, partnerID, followerName string) error {
	return e.notifier.Dispatch(ctx, notify.Event{
		Type:      notify.EventNewFollower,
		PartnerID: partnerID,
		Extra:     map[string]string{"fullName": followerName},
	})
}

// newQuoteNumber builds the unique, human-readable quote reference,
// e.g. QT-20260901-4F2A1C.
func newQuoteNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return fmt.Sprintf("QT-%s-%s", now.Format("20060102"), suffix)
}
