// internal/notify/dispatcher.go
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"

	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/common/metrics"
	"partner-portal-engine/internal/models"
)

// SESAPI and SNSAPI are the delivery gateway surfaces, defined here for mocking.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sink persists notification records in a single batched write per event.
type Sink interface {
	CreateMany(ctx context.Context, notifications []models.Notification) error
}

// Directory resolves recipient identities from the quote store.
type Directory interface {
	GetUserByID(ctx context.Context, id string) (models.RecipientInfo, error)
	GetPartnerOwner(ctx context.Context, partnerID string) (models.RecipientInfo, error)
	ListAdmins(ctx context.Context) ([]models.RecipientInfo, error)
}

// Event is one lifecycle occurrence to fan out.
type Event struct {
	Type     EventType
	Request  *models.QuoteRequest
	Response *models.QuoteResponse
	// PartnerID overrides the partner reference when no request/response is
	// involved (partner applications, followers).
	PartnerID string
	// Extra carries event-specific tokens; they win over recipient tokens.
	Extra map[string]string
}

// Config holds the dispatcher's delivery settings.
type Config struct {
	EmailEnabled  bool
	SMSEnabled    bool
	FromEmail     string
	ActionURLBase string
}

// Dispatcher computes the recipient set for an event and emits one
// notification per recipient plus per-channel delivery attempts.
type Dispatcher struct {
	config    Config
	directory Directory
	sink      Sink
	sesClient SESAPI
	snsClient SNSAPI
	registry  *Registry
	logger    logger.Logger
}

func NewDispatcher(cfg Config, directory Directory, sink Sink, sesClient SESAPI, snsClient SNSAPI, registry *Registry, log logger.Logger) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		config:    cfg,
		directory: directory,
		sink:      sink,
		sesClient: sesClient,
		snsClient: snsClient,
		registry:  registry,
		logger:    log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Dispatch fans out one event. All sink writes are attempted (one batch)
// before the event counts as dispatched; delivery failures are isolated per
// recipient and never fail the fan-out. A sink failure fails the whole
// fan-out but must not roll back the lifecycle transition that triggered it —
// that transition already committed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	recipients, extra := d.resolve(ctx, ev)
	if len(recipients) == 0 {
		d.logger.Warn("no recipients resolved", map[string]interface{}{
			"event": string(ev.Type),
		})
		return nil
	}

	now := time.Now().UTC()
	notifications := make([]models.Notification, 0, len(recipients))

	for _, info := range recipients {
		tmpl, ok := d.registry.Lookup(ev.Type, info.Role)
		if !ok {
			d.logger.Warn("no template for event/role", map[string]interface{}{
				"event": string(ev.Type),
				"role":  string(info.Role),
			})
			continue
		}

		tokens := MergeTokens(TokenData(info), extra)
		entityType, entityID := relatedEntity(ev)

		n := models.Notification{
			ID:                uuid.New().String(),
			RecipientID:       info.ID,
			Type:              string(ev.Type),
			Title:             Render(tmpl.Title, tokens),
			Message:           Render(tmpl.Message, tokens),
			RelatedEntityType: entityType,
			RelatedEntityID:   entityID,
			ActionURL:         d.actionURL(ev),
			CreatedAt:         now,
		}

		n.IsDeliverySent = d.deliver(ctx, info, n.Title, n.Message)
		notifications = append(notifications, n)
	}

	if len(notifications) == 0 {
		return nil
	}

	if err := d.sink.CreateMany(ctx, notifications); err != nil {
		d.logger.Error("notification batch write failed", map[string]interface{}{
			"event": string(ev.Type),
			"count": len(notifications),
			"error": err.Error(),
		})
		return stderrors.NewPersistenceFailureError("notifications.createMany", err)
	}

	metrics.NotificationsCreated.WithLabelValues(string(ev.Type)).Add(float64(len(notifications)))
	return nil
}

// resolve builds the recipient set per the event table and the shared token
// overlay (quote number, partner company, customer name).
func (d *Dispatcher) resolve(ctx context.Context, ev Event) ([]models.RecipientInfo, map[string]string) {
	extra := map[string]string{}
	for k, v := range ev.Extra {
		extra[k] = v
	}
	if ev.Response != nil {
		extra["quoteNumber"] = ev.Response.QuoteNumber
	}

	var recipients []models.RecipientInfo

	var customer *models.RecipientInfo
	if d.wantsCustomer(ev.Type) && ev.Request != nil {
		info := d.lookupUser(ctx, ev.Request.RequesterID, models.RoleCustomer)
		customer = &info
	}

	var partner *models.RecipientInfo
	if partnerID := d.partnerID(ev); partnerID != "" {
		info, err := d.directory.GetPartnerOwner(ctx, partnerID)
		if err != nil {
			d.logger.Warn("partner owner lookup failed", map[string]interface{}{
				"partnerId": partnerID,
				"error":     err.Error(),
			})
		} else {
			info.Role = models.RolePartner
			partner = &info
		}
	}

	// Token overlay: customer name and partner company are referenced across
	// recipient templates regardless of who receives the message.
	if customer != nil {
		if fullName := strings.TrimSpace(customer.FirstName + " " + customer.LastName); fullName != "" {
			if _, ok := extra["fullName"]; !ok {
				extra["fullName"] = fullName
			}
		}
	}
	if partner != nil && partner.CompanyName != "" {
		if _, ok := extra["companyName"]; !ok {
			extra["companyName"] = partner.CompanyName
		}
	}

	if customer != nil {
		recipients = append(recipients, *customer)
	}
	if partner != nil && d.wantsPartner(ev.Type) {
		recipients = append(recipients, *partner)
	}
	if d.wantsAdmins(ev.Type) {
		admins, err := d.directory.ListAdmins(ctx)
		if err != nil {
			d.logger.Warn("admin list lookup failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		for _, admin := range admins {
			admin.Role = models.RoleAdmin
			recipients = append(recipients, admin)
		}
	}

	return recipients, extra
}

// lookupUser falls back to an empty recipient record on malformed or missing
// user data so the notification still renders (with empty substitutions)
// instead of aborting the fan-out.
func (d *Dispatcher) lookupUser(ctx context.Context, id string, role models.RecipientRole) models.RecipientInfo {
	info, err := d.directory.GetUserByID(ctx, id)
	if err != nil {
		d.logger.Warn("recipient lookup failed, using empty recipient info", map[string]interface{}{
			"recipientId": id,
			"error":       err.Error(),
		})
		return models.RecipientInfo{ID: id, Role: role}
	}
	info.Role = role
	return info
}

func (d *Dispatcher) wantsCustomer(event EventType) bool {
	switch event {
	case EventQuoteRequestCreated, EventQuoteResponseCreated, EventQuoteExpiringSoon,
		EventQuoteExpired, EventRevisionAccepted, EventRevisionRejected:
		return true
	}
	return false
}

func (d *Dispatcher) wantsPartner(event EventType) bool {
	switch event {
	case EventQuoteRequestCreated, EventQuoteExpired, EventQuoteAccepted,
		EventQuoteRejected, EventRevisionRequested, EventNewFollower:
		return true
	}
	return false
}

func (d *Dispatcher) wantsAdmins(event EventType) bool {
	switch event {
	case EventQuoteRequestCreated, EventQuoteResponseCreated, EventQuoteAccepted,
		EventPartnerApplication:
		return true
	}
	return false
}

func (d *Dispatcher) partnerID(ev Event) string {
	if ev.PartnerID != "" {
		return ev.PartnerID
	}
	if ev.Response != nil {
		return ev.Response.PartnerID
	}
	if ev.Request != nil {
		return ev.Request.PartnerID
	}
	return ""
}

// deliver attempts each enabled channel for one recipient. Failures are
// logged and recorded, never propagated to sibling recipients.
func (d *Dispatcher) deliver(ctx context.Context, info models.RecipientInfo, subject, body string) bool {
	sent := false

	if d.config.EmailEnabled && info.EmailEnabled && info.Email != "" && d.sesClient != nil {
		if err := d.sendEmail(ctx, info.Email, subject, body); err != nil {
			metrics.DeliveryFailures.WithLabelValues("email").Inc()
			d.logger.Error("email delivery failed", map[string]interface{}{
				"recipientId": info.ID,
				"error":       err.Error(),
			})
		} else {
			sent = true
		}
	}

	if d.config.SMSEnabled && info.SMSEnabled && info.Phone != "" && d.snsClient != nil {
		if err := d.sendSMS(ctx, info.Phone, body); err != nil {
			metrics.DeliveryFailures.WithLabelValues("sms").Inc()
			d.logger.Error("SMS delivery failed", map[string]interface{}{
				"recipientId": info.ID,
				"error":       err.Error(),
			})
		} else {
			sent = true
		}
	}

	return sent
}

func (d *Dispatcher) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := d.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(d.config.FromEmail),
	})
	return err
}

func (d *Dispatcher) sendSMS(ctx context.Context, to, message string) error {
	_, err := d.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

func relatedEntity(ev Event) (string, string) {
	switch {
	case ev.Response != nil:
		return "quote_response", ev.Response.ID
	case ev.Request != nil:
		return "quote_request", ev.Request.ID
	case ev.PartnerID != "":
		return "partner", ev.PartnerID
	}
	return "", ""
}

func (d *Dispatcher) actionURL(ev Event) string {
	base := strings.TrimRight(d.config.ActionURLBase, "/")
	switch {
	case ev.Response != nil:
		return base + "/quotes/" + ev.Response.QuoteRequestID
	case ev.Request != nil:
		return base + "/quotes/" + ev.Request.ID
	case ev.PartnerID != "":
		return base + "/partners/" + ev.PartnerID
	}
	return base
}
