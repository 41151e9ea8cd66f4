// internal/models/revision.go
package models

import "time"

// RevisionStatus is the closed status set of a revision request.
type RevisionStatus string

const (
	RevisionStatusPending  RevisionStatus = "pending"
	RevisionStatusAccepted RevisionStatus = "accepted"
	RevisionStatusRejected RevisionStatus = "rejected"
)

func (s RevisionStatus) Valid() bool {
	switch s {
	case RevisionStatusPending, RevisionStatusAccepted, RevisionStatusRejected:
		return true
	}
	return false
}

// RevisionRequest is a customer's counter-proposal on pricing for an existing
// QuoteResponse. At most one pending revision may exist per quote response;
// a second submission is rejected while one is pending.
type RevisionRequest struct {
	ID              string         `json:"id"`
	QuoteResponseID string         `json:"quoteResponseId"`
	RequesterID     string         `json:"requesterId"`
	RequestedItems  []QuoteItem    `json:"requestedItems"`
	Message         string         `json:"message,omitempty"`
	Status          RevisionStatus `json:"status"`
	PartnerResponse *string        `json:"partnerResponse,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}
