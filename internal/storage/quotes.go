// internal/storage/quotes.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"partner-portal-engine/internal/common/clock"
	stderrors "partner-portal-engine/internal/common/errors"
	"partner-portal-engine/internal/common/logger"
	"partner-portal-engine/internal/models"
)

// PostgresQuoteStore is the persistence layer for quote requests, quote
// responses and revision requests. Status changes go through conditional
// updates (compare-and-set on the current status) so concurrent writers
// cannot clobber each other.
type PostgresQuoteStore struct {
	db     *sql.DB
	clock  clock.Clock
	logger logger.Logger
}

func NewPostgresQuoteStore(db *sql.DB, clk clock.Clock, log logger.Logger) *PostgresQuoteStore {
	return &PostgresQuoteStore{
		db:     db,
		clock:  clk,
		logger: log.WithFields(map[string]interface{}{"component": "quote_store"}),
	}
}

const quoteResponseColumns = `id, quote_request_id, partner_id, quote_number, items,
	subtotal, discount_amount, discount_percent, tax_rate_basis_points, tax_amount,
	total_amount, currency, valid_until, status, warning_sent_at, created_at, updated_at`

// ListActiveQuoteResponses returns all responses still in "sent" status that
// carry an expiry deadline. Responses without valid_until never expire and are
// not returned.
func (s *PostgresQuoteStore) ListActiveQuoteResponses(ctx context.Context) ([]models.QuoteResponse, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM quote_responses
		WHERE status = 'sent' AND valid_until IS NOT NULL
		ORDER BY valid_until ASC`, quoteResponseColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, stderrors.NewPersistenceFailureError("quote_responses.listActive", err)
	}
	defer rows.Close()

	var responses []models.QuoteResponse
	for rows.Next() {
		resp, err := scanQuoteResponse(rows)
		if err != nil {
			return nil, stderrors.NewPersistenceFailureError("quote_responses.scan", err)
		}
		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewPersistenceFailureError("quote_responses.listActive", err)
	}
	return responses, nil
}

// GetQuoteResponseByID fetches one quote response.
func (s *PostgresQuoteStore) GetQuoteResponseByID(ctx context.Context, id string) (*models.QuoteResponse, error) {
	query := fmt.Sprintf(`SELECT %s FROM quote_responses WHERE id = $1`, quoteResponseColumns)

	resp, err := scanQuoteResponse(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, stderrors.NewNotFoundError("quote_response", id)
	}
	if err != nil {
		return nil, stderrors.NewPersistenceFailureError("quote_responses.getByID", err)
	}
	return &resp, nil
}

// GetQuoteRequestByID fetches one quote request.
func (s *PostgresQuoteStore) GetQuoteRequestByID(ctx context.Context, id string) (*models.QuoteRequest, error) {
	query := `
		SELECT id, requester_id, partner_id, service_description, budget, message,
			status, response_time_minutes, satisfaction_rating, created_at, updated_at
		FROM quote_requests
		WHERE id = $1`

	var (
		req     models.QuoteRequest
		message sql.NullString
		minutes sql.NullInt64
		rating  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.RequesterID, &req.PartnerID, &req.ServiceDescription,
		&req.Budget, &message, &req.Status, &minutes, &rating,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, stderrors.NewNotFoundError("quote_request", id)
	}
	if err != nil {
		return nil, stderrors.NewPersistenceFailureError("quote_requests.getByID", err)
	}
	req.Message = message.String
	if minutes.Valid {
		m := int(minutes.Int64)
		req.ResponseTimeMinutes = &m
	}
	if rating.Valid {
		r := int(rating.Int64)
		req.SatisfactionRating = &r
	}
	return &req, nil
}

// CreateQuoteResponse inserts a fully computed quote response. Totals must
// already be filled in by the caller.
func (s *PostgresQuoteStore) CreateQuoteResponse(ctx context.Context, resp *models.QuoteResponse) error {
	itemsJSON, err := json.Marshal(resp.Items)
	if err != nil {
		return stderrors.NewPersistenceFailureError("quote_responses.marshalItems", err)
	}

	query := `
		INSERT INTO quote_responses (id, quote_request_id, partner_id, quote_number, items,
			subtotal, discount_amount, discount_percent, tax_rate_basis_points, tax_amount,
			total_amount, currency, valid_until, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`

	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx, query,
		resp.ID, resp.QuoteRequestID, resp.PartnerID, resp.QuoteNumber, itemsJSON,
		resp.Subtotal, resp.DiscountAmount, resp.DiscountPercent, resp.TaxRateBasisPoints,
		resp.TaxAmount, resp.TotalAmount, resp.Currency, resp.ValidUntil, resp.Status, now,
	)
	if err != nil {
		return stderrors.NewPersistenceFailureError("quote_responses.create", err)
	}
	resp.CreatedAt = now
	resp.UpdatedAt = now
	return nil
}

// ConditionalUpdateResponseStatus moves a quote response from one status to
// another only if it is still in the expected status. Returns false when the
// row was not in the expected status (lost race or already moved).
func (s *PostgresQuoteStore) ConditionalUpdateResponseStatus(ctx context.Context, id string, from, to models.QuoteResponseStatus) (bool, error) {
	query := `
		UPDATE quote_responses
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`

	result, err := s.db.ExecContext(ctx, query, id, from, to, s.clock.Now())
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("quote_responses.updateStatus", err)
	}
	return rowsAffected(result) > 0, nil
}

// ConditionalUpdateRequestStatus is the quote request counterpart of
// ConditionalUpdateResponseStatus.
func (s *PostgresQuoteStore) ConditionalUpdateRequestStatus(ctx context.Context, id string, from, to models.QuoteRequestStatus) (bool, error) {
	query := `
		UPDATE quote_requests
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`

	result, err := s.db.ExecContext(ctx, query, id, from, to, s.clock.Now())
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("quote_requests.updateStatus", err)
	}
	return rowsAffected(result) > 0, nil
}

// MarkWarningSent stamps warning_sent_at on a still-active quote response.
// The IS NULL guard makes the expiry warning once-only even when a sweep tick
// overlaps a redelivery.
func (s *PostgresQuoteStore) MarkWarningSent(ctx context.Context, id string) (bool, error) {
	now := s.clock.Now()
	query := `
		UPDATE quote_responses
		SET warning_sent_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'sent' AND warning_sent_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("quote_responses.markWarningSent", err)
	}
	return rowsAffected(result) > 0, nil
}

// SetResponseTime records once how long the partner took to first act on a
// request. Subsequent calls are no-ops.
func (s *PostgresQuoteStore) SetResponseTime(ctx context.Context, requestID string, minutes int) (bool, error) {
	query := `
		UPDATE quote_requests
		SET response_time_minutes = $2, updated_at = $3
		WHERE id = $1 AND response_time_minutes IS NULL`

	result, err := s.db.ExecContext(ctx, query, requestID, minutes, s.clock.Now())
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("quote_requests.setResponseTime", err)
	}
	return rowsAffected(result) > 0, nil
}

// HasPendingRevision reports whether a pending revision already exists for
// the quote response.
func (s *PostgresQuoteStore) HasPendingRevision(ctx context.Context, quoteResponseID string) (bool, error) {
	var count int
	query := `SELECT COUNT(1) FROM revision_requests WHERE quote_response_id = $1 AND status = 'pending'`
	if err := s.db.QueryRowContext(ctx, query, quoteResponseID).Scan(&count); err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.countPending", err)
	}
	return count > 0, nil
}

// CreateRevisionRequest inserts a new pending revision.
func (s *PostgresQuoteStore) CreateRevisionRequest(ctx context.Context, rev *models.RevisionRequest) error {
	itemsJSON, err := json.Marshal(rev.RequestedItems)
	if err != nil {
		return stderrors.NewPersistenceFailureError("revision_requests.marshalItems", err)
	}

	query := `
		INSERT INTO revision_requests (id, quote_response_id, requester_id, requested_items,
			message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx, query,
		rev.ID, rev.QuoteResponseID, rev.RequesterID, itemsJSON,
		rev.Message, rev.Status, now,
	)
	if err != nil {
		return stderrors.NewPersistenceFailureError("revision_requests.create", err)
	}
	rev.CreatedAt = now
	rev.UpdatedAt = now
	return nil
}

// ApplyRevisionAccepted resolves a pending revision and rewrites the quote
// response's items and totals in one transaction. Either both rows move or
// neither does. resp carries the recomputed items and amounts.
func (s *PostgresQuoteStore) ApplyRevisionAccepted(ctx context.Context, revisionID string, resp *models.QuoteResponse, partnerResponse *string) (bool, error) {
	itemsJSON, err := json.Marshal(resp.Items)
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.marshalItems", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.begin", err)
	}
	defer tx.Rollback()

	now := s.clock.Now()

	result, err := tx.ExecContext(ctx, `
		UPDATE revision_requests
		SET status = 'accepted', partner_response = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		revisionID, partnerResponse, now)
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.accept", err)
	}
	if rowsAffected(result) == 0 {
		return false, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE quote_responses
		SET items = $2, subtotal = $3, discount_amount = $4, tax_amount = $5,
			total_amount = $6, updated_at = $7
		WHERE id = $1 AND status = 'sent'`,
		resp.ID, itemsJSON, resp.Subtotal, resp.DiscountAmount,
		resp.TaxAmount, resp.TotalAmount, now)
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("quote_responses.applyRevision", err)
	}
	if rowsAffected(result) == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.commit", err)
	}
	return true, nil
}

// RejectRevision moves a pending revision to rejected, leaving the quote
// response untouched.
func (s *PostgresQuoteStore) RejectRevision(ctx context.Context, revisionID string, partnerResponse *string) (bool, error) {
	query := `
		UPDATE revision_requests
		SET status = 'rejected', partner_response = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`

	result, err := s.db.ExecContext(ctx, query, revisionID, partnerResponse, s.clock.Now())
	if err != nil {
		return false, stderrors.NewPersistenceFailureError("revision_requests.reject", err)
	}
	return rowsAffected(result) > 0, nil
}

// GetUserByID resolves a recipient's contact record.
func (s *PostgresQuoteStore) GetUserByID(ctx context.Context, id string) (models.RecipientInfo, error) {
	query := `
		SELECT id, first_name, last_name, COALESCE(company_name, ''), email,
			COALESCE(phone, ''), role, email_notifications_enabled, sms_notifications_enabled
		FROM users
		WHERE id = $1`

	var info models.RecipientInfo
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&info.ID, &info.FirstName, &info.LastName, &info.CompanyName,
		&info.Email, &info.Phone, &info.Role, &info.EmailEnabled, &info.SMSEnabled,
	)
	if err == sql.ErrNoRows {
		return models.RecipientInfo{}, stderrors.NewNotFoundError("user", id)
	}
	if err != nil {
		return models.RecipientInfo{}, stderrors.NewPersistenceFailureError("users.getByID", err)
	}
	return info, nil
}

// GetPartnerOwner resolves the owning user of a partner, carrying the
// partner's company name on the recipient record.
func (s *PostgresQuoteStore) GetPartnerOwner(ctx context.Context, partnerID string) (models.RecipientInfo, error) {
	query := `
		SELECT u.id, u.first_name, u.last_name, COALESCE(p.company_name, ''), u.email,
			COALESCE(u.phone, ''), u.role, u.email_notifications_enabled, u.sms_notifications_enabled
		FROM partners p
		JOIN users u ON u.id = p.owner_id
		WHERE p.id = $1`

	var info models.RecipientInfo
	err := s.db.QueryRowContext(ctx, query, partnerID).Scan(
		&info.ID, &info.FirstName, &info.LastName, &info.CompanyName,
		&info.Email, &info.Phone, &info.Role, &info.EmailEnabled, &info.SMSEnabled,
	)
	if err == sql.ErrNoRows {
		return models.RecipientInfo{}, stderrors.NewNotFoundError("partner", partnerID)
	}
	if err != nil {
		return models.RecipientInfo{}, stderrors.NewPersistenceFailureError("partners.getOwner", err)
	}
	return info, nil
}

// ListAdmins returns all admin users.
func (s *PostgresQuoteStore) ListAdmins(ctx context.Context) ([]models.RecipientInfo, error) {
	query := `
		SELECT id, first_name, last_name, COALESCE(company_name, ''), email,
			COALESCE(phone, ''), role, email_notifications_enabled, sms_notifications_enabled
		FROM users
		WHERE role = 'admin'`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, stderrors.NewPersistenceFailureError("users.listAdmins", err)
	}
	defer rows.Close()

	var admins []models.RecipientInfo
	for rows.Next() {
		var info models.RecipientInfo
		if err := rows.Scan(
			&info.ID, &info.FirstName, &info.LastName, &info.CompanyName,
			&info.Email, &info.Phone, &info.Role, &info.EmailEnabled, &info.SMSEnabled,
		); err != nil {
			return nil, stderrors.NewPersistenceFailureError("users.scanAdmin", err)
		}
		admins = append(admins, info)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewPersistenceFailureError("users.listAdmins", err)
	}
	return admins, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuoteResponse(row rowScanner) (models.QuoteResponse, error) {
	var (
		resp      models.QuoteResponse
		itemsJSON []byte
	)
	err := row.Scan(
		&resp.ID, &resp.QuoteRequestID, &resp.PartnerID, &resp.QuoteNumber, &itemsJSON,
		&resp.Subtotal, &resp.DiscountAmount, &resp.DiscountPercent, &resp.TaxRateBasisPoints,
		&resp.TaxAmount, &resp.TotalAmount, &resp.Currency, &resp.ValidUntil, &resp.Status,
		&resp.WarningSentAt, &resp.CreatedAt, &resp.UpdatedAt,
	)
	if err != nil {
		return models.QuoteResponse{}, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &resp.Items); err != nil {
			return models.QuoteResponse{}, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return resp, nil
}

func rowsAffected(result sql.Result) int64 {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
