package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/lib/pq"
)

const mailboxColumns = `m.id, m.external_id, m.credential_id, m.business_id, m.mailbox_address, m.sync_inbound, m.sync_outbound,
	m.sync_folders, m.delta_sync_token, m.last_sync_at, m.sync_status, m.sync_error, m.webhook_subscription_id,
	m.webhook_expires_at, m.created_at, m.updated_at`

func scanMailbox(row rowScanner) (*types.Mailbox, error) {
	var m types.Mailbox
	var delta, syncError, subscription sql.NullString
	var lastSync, webhookExpires sql.NullTime
	err := row.Scan(
		&m.Id, &m.ExternalId, &m.CredentialId, &m.BusinessId, &m.MailboxAddress, &m.SyncInbound, &m.SyncOutbound,
		pq.Array(&m.SyncFolders), &delta, &lastSync, &m.SyncStatus, &syncError, &subscription,
		&webhookExpires, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.DeltaSyncToken = delta.String
	m.SyncError = syncError.String
	m.WebhookSubscriptionId = subscription.String
	m.LastSyncAt = timePtr(lastSync)
	m.WebhookExpiresAt = timePtr(webhookExpires)
	return &m, nil
}

func (r *PostgresBackend) CreateMailbox(ctx context.Context, mailbox *types.Mailbox) (*types.Mailbox, error) {
	query := `
		WITH m AS (
			INSERT INTO mailbox (credential_id, business_id, mailbox_address, sync_inbound, sync_outbound, sync_folders, sync_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		)
		SELECT ` + mailboxColumns + ` FROM m
	`

	status := mailbox.SyncStatus
	if status == "" {
		status = types.SyncStatusActive
	}

	m, err := scanMailbox(r.db.QueryRowContext(ctx, query,
		mailbox.CredentialId, mailbox.BusinessId, mailbox.MailboxAddress, mailbox.SyncInbound, mailbox.SyncOutbound,
		pq.Array(mailbox.SyncFolders), status,
	))
	if err != nil {
		return nil, fmt.Errorf("create mailbox: %w", err)
	}
	return m, nil
}

func (r *PostgresBackend) GetMailbox(ctx context.Context, id uint) (*types.Mailbox, error) {
	query := `SELECT ` + mailboxColumns + ` FROM mailbox m WHERE m.id = $1`

	m, err := scanMailbox(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return m, nil
}

func (r *PostgresBackend) GetMailboxBySubscription(ctx context.Context, subscriptionId string) (*types.Mailbox, error) {
	query := `SELECT ` + mailboxColumns + ` FROM mailbox m WHERE m.webhook_subscription_id = $1`

	m, err := scanMailbox(r.db.QueryRowContext(ctx, query, subscriptionId))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox by subscription: %w", err)
	}
	return m, nil
}

func (r *PostgresBackend) ListSyncableMailboxes(ctx context.Context) ([]*types.Mailbox, error) {
	query := `
		SELECT ` + mailboxColumns + `
		FROM mailbox m JOIN credential c ON c.id = m.credential_id
		WHERE c.is_active
		ORDER BY m.last_sync_at NULLS FIRST, m.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list syncable mailboxes: %w", err)
	}
	defer rows.Close()

	var mailboxes []*types.Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, rows.Err()
}

func (r *PostgresBackend) UpdateMailboxSyncState(ctx context.Context, id uint, state types.MailboxSyncState) error {
	var delta sql.NullString
	if state.DeltaSyncToken != nil {
		delta = sql.NullString{String: *state.DeltaSyncToken, Valid: true}
	}

	query := `
		UPDATE mailbox
		SET delta_sync_token = CASE WHEN $2::boolean THEN $3 ELSE delta_sync_token END,
			last_sync_at = COALESCE($4, last_sync_at),
			sync_status = $5,
			sync_error = $6,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		id, state.DeltaSyncToken != nil, delta, nullTime(state.LastSyncAt), state.SyncStatus, nullString(state.SyncError),
	)
	if err != nil {
		return fmt.Errorf("update mailbox sync state: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return &types.MailboxNotFoundError{MailboxId: id}
	}
	return nil
}

func (r *PostgresBackend) UpdateMailboxSubscription(ctx context.Context, id uint, subscriptionId string, expiresAt *time.Time) error {
	query := `
		UPDATE mailbox
		SET webhook_subscription_id = $2, webhook_expires_at = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, nullString(subscriptionId), nullTime(expiresAt))
	if err != nil {
		return fmt.Errorf("update mailbox subscription: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return &types.MailboxNotFoundError{MailboxId: id}
	}
	return nil
}
