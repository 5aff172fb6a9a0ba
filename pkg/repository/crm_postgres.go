package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/types"
)

func (r *PostgresBackend) FindContactByAddress(ctx context.Context, businessId uint, address string) (*types.Contact, error) {
	query := `
		SELECT id, business_id, email, company_id
		FROM contact WHERE business_id = $1 AND LOWER(email) = LOWER($2)
		ORDER BY id LIMIT 1
	`

	var c types.Contact
	var companyId sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, businessId, address).Scan(&c.Id, &c.BusinessId, &c.Email, &companyId)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	c.CompanyId = uintPtr(companyId)
	return &c, nil
}

func (r *PostgresBackend) FindOpenDealsForContact(ctx context.Context, businessId, contactId uint) ([]*types.Deal, error) {
	return r.queryDeals(ctx, `
		SELECT id, business_id, contact_id, company_id, is_open
		FROM deal WHERE business_id = $1 AND contact_id = $2 AND is_open ORDER BY id
	`, businessId, contactId)
}

func (r *PostgresBackend) FindOpenDealsForCompany(ctx context.Context, businessId, companyId uint) ([]*types.Deal, error) {
	return r.queryDeals(ctx, `
		SELECT id, business_id, contact_id, company_id, is_open
		FROM deal WHERE business_id = $1 AND company_id = $2 AND is_open ORDER BY id
	`, businessId, companyId)
}

func (r *PostgresBackend) queryDeals(ctx context.Context, query string, args ...any) ([]*types.Deal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var deals []*types.Deal
	for rows.Next() {
		var d types.Deal
		var contactId, companyId sql.NullInt64
		if err := rows.Scan(&d.Id, &d.BusinessId, &contactId, &companyId, &d.IsOpen); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		d.ContactId = uintPtr(contactId)
		d.CompanyId = uintPtr(companyId)
		deals = append(deals, &d)
	}
	return deals, rows.Err()
}
