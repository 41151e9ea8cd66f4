// internal/models/notification.go
package models

import "time"

// Notification is a per-recipient inbox entry. Immutable once created except
// for IsRead/ReadAt.
type Notification struct {
	ID                string                 `json:"id"`
	RecipientID       string                 `json:"recipientId"`
	Type              string                 `json:"type"`
	Title             string                 `json:"title"`
	Message           string                 `json:"message"`
	RelatedEntityType string                 `json:"relatedEntityType,omitempty"`
	RelatedEntityID   string                 `json:"relatedEntityId,omitempty"`
	ActionURL         string                 `json:"actionUrl,omitempty"`
	IsRead            bool                   `json:"isRead"`
	IsDeliverySent    bool                   `json:"isDeliverySent"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	ReadAt            *time.Time             `json:"readAt,omitempty"`
}
