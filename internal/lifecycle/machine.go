// internal/lifecycle/machine.go
package lifecycle

import (
	"time"

	"partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/models"
)

// requestTransitions is the allowed edge set of the quote request graph:
// pending -> under_review -> quote_sent -> {accepted, rejected, expired},
// accepted -> completed, with paid reachable from accepted once payment is
// confirmed.
var requestTransitions = map[models.QuoteRequestStatus][]models.QuoteRequestStatus{
	models.RequestStatusPending: {
		models.RequestStatusUnderReview,
		models.RequestStatusQuoteSent,
	},
	models.RequestStatusUnderReview: {
		models.RequestStatusQuoteSent,
	},
	models.RequestStatusQuoteSent: {
		models.RequestStatusAccepted,
		models.RequestStatusRejected,
		models.RequestStatusExpired,
	},
	models.RequestStatusAccepted: {
		models.RequestStatusCompleted,
		models.RequestStatusPaid,
	},
	models.RequestStatusPaid: {
		models.RequestStatusCompleted,
	},
}

var responseTransitions = map[models.QuoteResponseStatus][]models.QuoteResponseStatus{
	models.ResponseStatusSent: {
		models.ResponseStatusAccepted,
		models.ResponseStatusRejected,
		models.ResponseStatusExpired,
	},
}

// CheckRequestTransition validates a quote request status move. Terminal
// statuses never transition; the attempt fails and must be treated as a no-op.
func CheckRequestTransition(from, to models.QuoteRequestStatus) error {
	if !from.Valid() || !to.Valid() {
		return errors.NewInvalidTransitionError("quote_request", string(from), string(to))
	}
	for _, allowed := range requestTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return errors.NewInvalidTransitionError("quote_request", string(from), string(to))
}

// CheckResponseTransition validates a quote response status move.
func CheckResponseTransition(from, to models.QuoteResponseStatus) error {
	if !from.Valid() || !to.Valid() {
		return errors.NewInvalidTransitionError("quote_response", string(from), string(to))
	}
	for _, allowed := range responseTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return errors.NewInvalidTransitionError("quote_response", string(from), string(to))
}

// ResponseTimeMinutes computes the elapsed whole minutes between the request's
// creation and the partner's first response. Captured at most once, on the
// first transition out of pending.
func ResponseTimeMinutes(requestCreatedAt, now time.Time) int {
	elapsed := now.Sub(requestCreatedAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / time.Minute)
}
