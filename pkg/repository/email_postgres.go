package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/lib/pq"
)

const emailColumns = `id, provider_message_id, provider_conversation_id, mailbox_id, business_id, direction, subject,
	body_preview, body_html, from_address, from_name, to_addresses, cc_addresses, sent_at, received_at,
	has_attachments, contact_id, company_id, deal_id, auto_linked, created_at`

func scanEmail(row rowScanner) (*types.Email, error) {
	var e types.Email
	var conversation, html sql.NullString
	var sentAt, receivedAt sql.NullTime
	var contactId, companyId, dealId sql.NullInt64
	err := row.Scan(
		&e.Id, &e.ProviderMessageId, &conversation, &e.MailboxId, &e.BusinessId, &e.Direction, &e.Subject,
		&e.BodyPreview, &html, &e.FromAddress, &e.FromName, pq.Array(&e.ToAddresses), pq.Array(&e.CcAddresses),
		&sentAt, &receivedAt, &e.HasAttachments, &contactId, &companyId, &dealId, &e.AutoLinked, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ProviderConversationId = conversation.String
	e.BodyHtml = html.String
	e.SentAt = timePtr(sentAt)
	e.ReceivedAt = timePtr(receivedAt)
	e.ContactId = uintPtr(contactId)
	e.CompanyId = uintPtr(companyId)
	e.DealId = uintPtr(dealId)
	return &e, nil
}

func (r *PostgresBackend) UpsertEmail(ctx context.Context, email *types.Email) (bool, error) {
	query := `
		INSERT INTO email (provider_message_id, provider_conversation_id, mailbox_id, business_id, direction, subject,
			body_preview, body_html, from_address, from_name, to_addresses, cc_addresses, sent_at, received_at,
			has_attachments, contact_id, company_id, deal_id, auto_linked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		email.ProviderMessageId, nullString(email.ProviderConversationId), email.MailboxId, email.BusinessId,
		email.Direction, email.Subject, email.BodyPreview, nullString(email.BodyHtml), email.FromAddress, email.FromName,
		pq.Array(email.ToAddresses), pq.Array(email.CcAddresses), nullTime(email.SentAt), nullTime(email.ReceivedAt),
		email.HasAttachments, nullUint(email.ContactId), nullUint(email.CompanyId), nullUint(email.DealId), email.AutoLinked,
	).Scan(&email.Id, &email.CreatedAt)
	if err == sql.ErrNoRows {
		// Another writer stored this message first
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert email: %w", err)
	}
	return true, nil
}

func (r *PostgresBackend) GetEmail(ctx context.Context, id uint) (*types.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM email WHERE id = $1`

	e, err := scanEmail(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return e, nil
}

func (r *PostgresBackend) GetEmailByProviderId(ctx context.Context, providerMessageId string) (*types.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM email WHERE provider_message_id = $1`

	e, err := scanEmail(r.db.QueryRowContext(ctx, query, providerMessageId))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email by provider id: %w", err)
	}
	return e, nil
}

func (r *PostgresBackend) EmailExists(ctx context.Context, providerMessageId string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM email WHERE provider_message_id = $1)`, providerMessageId).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("email exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresBackend) DeleteEmailByProviderId(ctx context.Context, providerMessageId string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM email WHERE provider_message_id = $1`, providerMessageId)
	if err != nil {
		return false, fmt.Errorf("delete email: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *PostgresBackend) SetEmailLinks(ctx context.Context, id uint, links types.EmailLinks, autoLinked bool) error {
	query := `
		UPDATE email SET contact_id = $2, company_id = $3, deal_id = $4, auto_linked = $5
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, nullUint(links.ContactId), nullUint(links.CompanyId), nullUint(links.DealId), autoLinked)
	if err != nil {
		return fmt.Errorf("set email links: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("email not found: %d", id)
	}
	return nil
}

func (r *PostgresBackend) ListEmails(ctx context.Context, mailboxId uint, limit int) ([]*types.Email, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + emailColumns + ` FROM email WHERE mailbox_id = $1 ORDER BY received_at DESC NULLS LAST, id DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, mailboxId, limit)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var emails []*types.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
