package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/lib/pq"
)

const credentialColumns = `id, external_id, business_id, tenant_id, client_id, access_token, refresh_token,
	token_expires_at, scopes, is_active, token_version, deactivated_reason, deactivated_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*types.Credential, error) {
	var c types.Credential
	var reason sql.NullString
	var deactivatedAt sql.NullTime
	err := row.Scan(
		&c.Id, &c.ExternalId, &c.BusinessId, &c.TenantId, &c.ClientId, &c.AccessToken, &c.RefreshToken,
		&c.TokenExpiresAt, pq.Array(&c.Scopes), &c.IsActive, &c.TokenVersion, &reason, &deactivatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DeactivatedReason = reason.String
	c.DeactivatedAt = timePtr(deactivatedAt)
	c.TokenExpiresAt = c.TokenExpiresAt.UTC()
	return &c, nil
}

func (r *PostgresBackend) GetCredential(ctx context.Context, id uint) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential WHERE id = $1`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func (r *PostgresBackend) GetActiveCredential(ctx context.Context, businessId uint, tenantId string) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential WHERE business_id = $1 AND tenant_id = $2 AND is_active`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, businessId, tenantId))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active credential: %w", err)
	}
	return c, nil
}

func (r *PostgresBackend) SaveCredential(ctx context.Context, cred *types.Credential) (*types.Credential, error) {
	query := `
		INSERT INTO credential (business_id, tenant_id, client_id, access_token, refresh_token, token_expires_at, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (business_id, tenant_id) WHERE is_active
		DO UPDATE SET client_id = EXCLUDED.client_id, access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token, token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes, token_version = credential.token_version + 1, updated_at = CURRENT_TIMESTAMP
		RETURNING ` + credentialColumns

	c, err := scanCredential(r.db.QueryRowContext(ctx, query,
		cred.BusinessId, cred.TenantId, cred.ClientId, cred.AccessToken, cred.RefreshToken,
		cred.TokenExpiresAt.UTC(), pq.Array(cred.Scopes),
	))
	if err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	return c, nil
}

func (r *PostgresBackend) UpdateCredentialTokens(ctx context.Context, id uint, update types.CredentialTokenUpdate) error {
	query := `
		UPDATE credential
		SET access_token = $2, refresh_token = $3, token_expires_at = $4,
			token_version = token_version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, update.AccessToken, update.RefreshToken, update.TokenExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("update credential tokens: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return &types.CredentialNotFoundError{CredentialId: id}
	}
	return nil
}

func (r *PostgresBackend) DeactivateCredential(ctx context.Context, id uint, reason string) error {
	query := `
		UPDATE credential
		SET is_active = FALSE, deactivated_reason = $2, deactivated_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return &types.CredentialNotFoundError{CredentialId: id}
	}
	return nil
}
