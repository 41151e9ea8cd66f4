// internal/sweep/scheduler.go
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"partner-portal-engine/internal/common/clock"
	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/common/metrics"
	"partner-portal-engine/internal/common/observability"
	"partner-portal-engine/internal/lifecycle"
	"partner-portal-engine/internal/models"
	"partner-portal-engine/internal/notify"
)

// Store is the slice of the quote store the sweep needs.
type Store interface {
	ListActiveQuoteResponses(ctx context.Context) ([]models.QuoteResponse, error)
	ConditionalUpdateResponseStatus(ctx context.Context, id string, from, to models.QuoteResponseStatus) (bool, error)
	ConditionalUpdateRequestStatus(ctx context.Context, id string, from, to models.QuoteRequestStatus) (bool, error)
	MarkWarningSent(ctx context.Context, id string) (bool, error)
	GetQuoteRequestByID(ctx context.Context, id string) (*models.QuoteRequest, error)
}

// Notifier fans out one lifecycle event.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// Config carries the sweep cadence and windows.
type Config struct {
	Interval      time.Duration
	WarningWindow time.Duration
	ItemTimeout   time.Duration
	Concurrency   int
}

// Scheduler drives the expiration sweep: on every tick it scans all active
// quote responses, expires the ones past their deadline and warns on the ones
// entering the warning window. Ticks are serialized — a tick that fires while
// the previous one is still running is skipped, never queued.
type Scheduler struct {
	config   Config
	store    Store
	notifier Notifier
	clock    clock.Clock
	obs      *observability.Observability
	logger   logger.Logger

	tickMu sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func New(cfg Config, store Store, notifier Notifier, clk clock.Clock, obs *observability.Observability, log logger.Logger) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		config:   cfg,
		store:    store,
		notifier: notifier,
		clock:    clk,
		obs:      obs,
		logger:   log.WithFields(map[string]interface{}{"component": "sweep"}),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("sweep scheduler starting", map[string]interface{}{
		"interval":      s.config.Interval.String(),
		"warningWindow": s.config.WarningWindow.String(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runTick(ctx)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runTick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweep scheduler stopped", nil)
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runTick(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.logger.Error("sweep tick failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// Tick performs one full sweep pass. Safe to call directly (for diagnostics
// or tests); overlapping calls return immediately.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		s.logger.Warn("previous sweep tick still running, skipping", nil)
		return nil
	}
	defer s.tickMu.Unlock()

	metrics.SweepTicksTotal.Inc()
	started := time.Now()
	if s.obs != nil {
		var span trace.Span
		ctx, span = s.obs.StartTickSpan(ctx)
		defer span.End()
	}

	status := "ok"
	defer func() {
		elapsed := time.Since(started)
		metrics.SweepTickDuration.Observe(elapsed.Seconds())
		if s.obs != nil {
			s.obs.RecordTickDuration(ctx, elapsed, status)
		}
	}()

	responses, err := s.store.ListActiveQuoteResponses(ctx)
	if err != nil {
		status = "error"
		return err
	}
	if s.obs != nil {
		s.obs.RecordQuotesScanned(ctx, int64(len(responses)))
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.config.Concurrency)
	)
	for i := range responses {
		resp := responses[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.evaluateWithRecovery(ctx, resp)
		}()
	}
	wg.Wait()

	s.logger.Info("sweep tick completed", map[string]interface{}{
		"scanned":  len(responses),
		"duration": time.Since(started).String(),
	})
	return nil
}

// evaluateWithRecovery isolates one quote's evaluation: a panic or error in
// one item never stops the rest of the tick.
func (s *Scheduler) evaluateWithRecovery(ctx context.Context, resp models.QuoteResponse) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SweepItemFailures.WithLabelValues("PANIC").Inc()
			s.logger.Error("panic while evaluating quote response", map[string]interface{}{
				"quoteResponseId": resp.ID,
				"panic":           fmt.Sprintf("%v", r),
			})
		}
	}()

	itemCtx := ctx
	if s.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.config.ItemTimeout)
		defer cancel()
	}

	if err := s.evaluate(itemCtx, resp); err != nil {
		metrics.SweepItemFailures.WithLabelValues(string(stderrors.CodeOf(err))).Inc()
		s.logger.Error("quote response evaluation failed", map[string]interface{}{
			"quoteResponseId": resp.ID,
			"error":           err.Error(),
		})
	}
}

func (s *Scheduler) evaluate(ctx context.Context, resp models.QuoteResponse) error {
	if resp.ValidUntil == nil {
		return nil
	}

	now := s.clock.Now()
	switch {
	case !now.Before(*resp.ValidUntil):
		return s.expire(ctx, resp)
	case resp.WarningSentAt == nil && !resp.ValidUntil.After(now.Add(s.config.WarningWindow)):
		return s.warn(ctx, resp)
	}
	return nil
}

// expire moves the response (and its request) to expired and fans out the
// expiry event. Losing the status race — the customer accepted between scan
// and update — is a clean no-op.
func (s *Scheduler) expire(ctx context.Context, resp models.QuoteResponse) error {
	if err := lifecycle.CheckResponseTransition(resp.Status, models.ResponseStatusExpired); err != nil {
		return err
	}

	moved, err := s.store.ConditionalUpdateResponseStatus(ctx, resp.ID, models.ResponseStatusSent, models.ResponseStatusExpired)
	if err != nil {
		return err
	}
	if !moved {
		s.logger.Debug("quote response already left sent status, skipping expiry", map[string]interface{}{
			"quoteResponseId": resp.ID,
		})
		return nil
	}

	requestMoved, err := s.store.ConditionalUpdateRequestStatus(ctx, resp.QuoteRequestID, models.RequestStatusQuoteSent, models.RequestStatusExpired)
	if err != nil {
		return err
	}
	if !requestMoved {
		s.logger.Warn("quote request did not follow response into expired", map[string]interface{}{
			"quoteRequestId": resp.QuoteRequestID,
		})
	}

	metrics.QuotesExpired.Inc()
	resp.Status = models.ResponseStatusExpired

	s.logger.Info("quote response expired", map[string]interface{}{
		"quoteResponseId": resp.ID,
		"quoteNumber":     resp.QuoteNumber,
	})

	req, err := s.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	return s.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventQuoteExpired,
		Request:  req,
		Response: &resp,
	})
}

// warn stamps warning_sent_at first, then dispatches: if the fan-out dies the
// warning may be lost for this quote, but it can never be sent twice.
func (s *Scheduler) warn(ctx context.Context, resp models.QuoteResponse) error {
	marked, err := s.store.MarkWarningSent(ctx, resp.ID)
	if err != nil {
		return err
	}
	if !marked {
		return nil
	}

	metrics.ExpiryWarningsSent.Inc()

	s.logger.Info("expiry warning marked", map[string]interface{}{
		"quoteResponseId": resp.ID,
		"validUntil":      resp.ValidUntil.Format(time.RFC3339),
	})

	req, err := s.store.GetQuoteRequestByID(ctx, resp.QuoteRequestID)
	if err != nil {
		return err
	}
	return s.notifier.Dispatch(ctx, notify.Event{
		Type:     notify.EventQuoteExpiringSoon,
		Request:  req,
		Response: &resp,
		Extra: map[string]string{
			"validUntil": resp.ValidUntil.Format("2006-01-02 15:04 MST"),
		},
	})
}
