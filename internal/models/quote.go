// internal/models/quote.go
package models

import "time"

// QuoteRequestStatus is the closed status set of a quote request.
type QuoteRequestStatus string

const (
	RequestStatusPending     QuoteRequestStatus = "pending"
	RequestStatusUnderReview QuoteRequestStatus = "under_review"
	RequestStatusQuoteSent   QuoteRequestStatus = "quote_sent"
	RequestStatusAccepted    QuoteRequestStatus = "accepted"
	RequestStatusRejected    QuoteRequestStatus = "rejected"
	RequestStatusExpired     QuoteRequestStatus = "expired"
	RequestStatusCompleted   QuoteRequestStatus = "completed"
	RequestStatusPaid        QuoteRequestStatus = "paid"
)

// Valid reports whether s is a member of the status set.
func (s QuoteRequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusUnderReview, RequestStatusQuoteSent,
		RequestStatusAccepted, RequestStatusRejected, RequestStatusExpired,
		RequestStatusCompleted, RequestStatusPaid:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s QuoteRequestStatus) Terminal() bool {
	switch s {
	case RequestStatusRejected, RequestStatusExpired, RequestStatusCompleted:
		return true
	}
	return false
}

// QuoteResponseStatus is the closed status set of a quote response.
type QuoteResponseStatus string

const (
	ResponseStatusSent     QuoteResponseStatus = "sent"
	ResponseStatusAccepted QuoteResponseStatus = "accepted"
	ResponseStatusRejected QuoteResponseStatus = "rejected"
	ResponseStatusExpired  QuoteResponseStatus = "expired"
)

func (s QuoteResponseStatus) Valid() bool {
	switch s {
	case ResponseStatusSent, ResponseStatusAccepted, ResponseStatusRejected, ResponseStatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the response can no longer change status.
func (s QuoteResponseStatus) Terminal() bool {
	return s != ResponseStatusSent && s.Valid()
}

// QuoteRequest is a customer's ask for pricing sent to a partner.
type QuoteRequest struct {
	ID                  string             `json:"id"`
	RequesterID         string             `json:"requesterId"`
	PartnerID           string             `json:"partnerId"`
	ServiceDescription  string             `json:"serviceDescription"`
	Budget              string             `json:"budget"`
	Message             string             `json:"message,omitempty"`
	Status              QuoteRequestStatus `json:"status"`
	ResponseTimeMinutes *int               `json:"responseTimeMinutes,omitempty"` // set once, on first transition out of pending
	SatisfactionRating  *int               `json:"satisfactionRating,omitempty"`  // 1..5
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// QuoteItem is one priced line of a quote response. All monetary values are
// integers in minor currency units.
type QuoteItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	LineTotal   int64  `json:"lineTotal"`
}

// QuoteResponse is the formal priced document a partner issues against a
// QuoteRequest.
type QuoteResponse struct {
	ID                 string              `json:"id"`
	QuoteRequestID     string              `json:"quoteRequestId"`
	PartnerID          string              `json:"partnerId"`
	QuoteNumber        string              `json:"quoteNumber"` // globally unique, immutable
	Items              []QuoteItem         `json:"items"`
	Subtotal           int64               `json:"subtotal"`
	DiscountAmount     int64               `json:"discountAmount"`
	DiscountPercent    int64               `json:"discountPercent"`
	TaxRateBasisPoints int64               `json:"taxRateBasisPoints"` // 2000 = 20.00%
	TaxAmount          int64               `json:"taxAmount"`
	TotalAmount        int64               `json:"totalAmount"`
	Currency           string              `json:"currency"`
	ValidUntil         *time.Time          `json:"validUntil,omitempty"`
	Status             QuoteResponseStatus `json:"status"`
	WarningSentAt      *time.Time          `json:"warningSentAt,omitempty"` // idempotency guard for expiring-soon warnings
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}
