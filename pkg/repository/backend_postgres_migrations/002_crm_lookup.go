package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upCRMLookup, downCRMLookup)
}

// The CRM owns these tables. They are created only when absent so a standalone
// deployment can still auto-link.
func upCRMLookup(tx *sql.Tx) error {
	createStatements := []string{
		`CREATE TABLE IF NOT EXISTS company (
			id SERIAL PRIMARY KEY,
			business_id INT NOT NULL,
			name VARCHAR(255) NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS contact (
			id SERIAL PRIMARY KEY,
			business_id INT NOT NULL,
			email VARCHAR(320) NOT NULL,
			company_id INT REFERENCES company(id) ON DELETE SET NULL
		);`,

		`CREATE TABLE IF NOT EXISTS deal (
			id SERIAL PRIMARY KEY,
			business_id INT NOT NULL,
			contact_id INT REFERENCES contact(id) ON DELETE SET NULL,
			company_id INT REFERENCES company(id) ON DELETE SET NULL,
			is_open BOOLEAN NOT NULL DEFAULT TRUE
		);`,

		`CREATE INDEX IF NOT EXISTS idx_contact_business_email ON contact(business_id, LOWER(email));`,
		`CREATE INDEX IF NOT EXISTS idx_deal_contact_open ON deal(contact_id) WHERE is_open;`,
		`CREATE INDEX IF NOT EXISTS idx_deal_company_open ON deal(company_id) WHERE is_open;`,
	}

	for _, stmt := range createStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func downCRMLookup(tx *sql.Tx) error {
	// Shared with the CRM; never dropped from here
	return nil
}
