// internal/notify/registry.go
package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"partner-portal-engine/internal/models"
)

// EventType tags a lifecycle event that triggers a fan-out.
type EventType string

const (
	EventQuoteRequestCreated  EventType = "quote_request_created"
	EventQuoteResponseCreated EventType = "quote_response_created"
	EventQuoteExpiringSoon    EventType = "quote_expiring_soon"
	EventQuoteExpired         EventType = "quote_expired"
	EventQuoteAccepted        EventType = "quote_accepted"
	EventQuoteRejected        EventType = "quote_rejected"
	EventRevisionRequested    EventType = "revision_requested"
	EventRevisionAccepted     EventType = "revision_accepted"
	EventRevisionRejected     EventType = "revision_rejected"
	EventPartnerApplication   EventType = "partner_application_created"
	EventNewFollower          EventType = "new_follower"
)

// Template is the pre-substitution content of one notification.
type Template struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Registry maps event type and recipient role to content. The built-in table
// can be overridden per entry by a JSON registry file.
type Registry struct {
	templates map[EventType]map[models.RecipientRole]Template
}

// registrySchema validates an override file before it is merged.
const registrySchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"additionalProperties": {
			"type": "object",
			"properties": {
				"title":   {"type": "string", "minLength": 1},
				"message": {"type": "string", "minLength": 1}
			},
			"required": ["title", "message"],
			"additionalProperties": false
		}
	}
}`

// NewRegistry returns the built-in content table.
func NewRegistry() *Registry {
	return &Registry{templates: builtinTemplates()}
}

// LoadRegistry merges a JSON override file over the built-ins. The file is
// schema-validated first; an invalid file is rejected and the caller should
// fall back to the built-ins.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template registry: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(registrySchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("validate template registry: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("template registry invalid: %s", result.Errors()[0].String())
	}

	var overrides map[EventType]map[models.RecipientRole]Template
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse template registry: %w", err)
	}

	reg := NewRegistry()
	for event, byRole := range overrides {
		if reg.templates[event] == nil {
			reg.templates[event] = map[models.RecipientRole]Template{}
		}
		for role, tmpl := range byRole {
			reg.templates[event][role] = tmpl
		}
	}
	return reg, nil
}

// Lookup returns the template for an event/role pair.
func (r *Registry) Lookup(event EventType, role models.RecipientRole) (Template, bool) {
	byRole, ok := r.templates[event]
	if !ok {
		return Template{}, false
	}
	tmpl, ok := byRole[role]
	return tmpl, ok
}

func builtinTemplates() map[EventType]map[models.RecipientRole]Template {
	return map[EventType]map[models.RecipientRole]Template{
		EventQuoteRequestCreated: {
			models.RoleCustomer: {
				Title:   "Your quote request was sent",
				Message: "Hi {{firstName}}, your request has been sent to {{companyName}}. You will be notified when they respond.",
			},
			models.RolePartner: {
				Title:   "New quote request",
				Message: "{{fullName}} sent you a new quote request. Respond promptly to keep your response time low.",
			},
			models.RoleAdmin: {
				Title:   "New quote request",
				Message: "A new quote request was submitted for {{companyName}}.",
			},
		},
		EventQuoteResponseCreated: {
			models.RoleCustomer: {
				Title:   "You received a quote",
				Message: "Hi {{firstName}}, {{companyName}} sent you quote {{quoteNumber}}. Review it before it expires.",
			},
			models.RoleAdmin: {
				Title:   "Quote sent",
				Message: "{{companyName}} issued quote {{quoteNumber}}.",
			},
		},
		EventQuoteExpiringSoon: {
			models.RoleCustomer: {
				Title:   "Your quote expires tomorrow",
				Message: "Hi {{firstName}}, quote {{quoteNumber}} from {{companyName}} expires within 24 hours. Act now to accept it.",
			},
		},
		EventQuoteExpired: {
			models.RoleCustomer: {
				Title:   "Your quote has expired",
				Message: "Hi {{firstName}}, quote {{quoteNumber}} from {{companyName}} has expired. You can request a new quote at any time.",
			},
			models.RolePartner: {
				Title:   "Quote expired",
				Message: "Quote {{quoteNumber}} expired without a customer decision. You may issue a new quote for the same request.",
			},
		},
		EventQuoteAccepted: {
			models.RolePartner: {
				Title:   "Quote accepted",
				Message: "{{fullName}} accepted quote {{quoteNumber}}. You can start the project.",
			},
			models.RoleAdmin: {
				Title:   "Quote accepted",
				Message: "Quote {{quoteNumber}} was accepted.",
			},
		},
		EventQuoteRejected: {
			models.RolePartner: {
				Title:   "Quote rejected",
				Message: "{{fullName}} declined quote {{quoteNumber}}.",
			},
		},
		EventRevisionRequested: {
			models.RolePartner: {
				Title:   "Revision requested",
				Message: "{{fullName}} requested a price revision on quote {{quoteNumber}}.",
			},
		},
		EventRevisionAccepted: {
			models.RoleCustomer: {
				Title:   "Revision accepted",
				Message: "Hi {{firstName}}, {{companyName}} accepted your revision on quote {{quoteNumber}}. The quote has been updated.",
			},
		},
		EventRevisionRejected: {
			models.RoleCustomer: {
				Title:   "Revision declined",
				Message: "Hi {{firstName}}, {{companyName}} declined your revision request on quote {{quoteNumber}}.",
			},
		},
		EventPartnerApplication: {
			models.RoleAdmin: {
				Title:   "New partner application",
				Message: "{{companyName}} applied to join the platform. Review the application.",
			},
		},
		EventNewFollower: {
			models.RolePartner: {
				Title:   "New follower",
				Message: "{{fullName}} started following your company profile.",
			},
		},
	}
}
