package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upInitial, downInitial)
}

func upInitial(tx *sql.Tx) error {
	// Ensure UUID extension is available
	if _, err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return err
	}

	createStatements := []string{
		// OAuth credentials; token columns hold sealed bytes
		`CREATE TABLE IF NOT EXISTS credential (
			id SERIAL PRIMARY KEY,
			external_id UUID DEFAULT uuid_generate_v4() UNIQUE NOT NULL,
			business_id INT NOT NULL,
			tenant_id VARCHAR(255) NOT NULL,
			client_id VARCHAR(255) NOT NULL,
			access_token BYTEA NOT NULL,
			refresh_token BYTEA NOT NULL,
			token_expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			scopes TEXT[] DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			token_version INT NOT NULL DEFAULT 1,
			deactivated_reason TEXT,
			deactivated_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);`,

		// At most one active credential per business + tenant
		`CREATE UNIQUE INDEX idx_credential_active_tenant ON credential(business_id, tenant_id) WHERE is_active;`,

		`CREATE TABLE IF NOT EXISTS mailbox (
			id SERIAL PRIMARY KEY,
			external_id UUID DEFAULT uuid_generate_v4() UNIQUE NOT NULL,
			credential_id INT NOT NULL REFERENCES credential(id) ON DELETE CASCADE,
			business_id INT NOT NULL,
			mailbox_address VARCHAR(320) NOT NULL,
			sync_inbound BOOLEAN NOT NULL DEFAULT TRUE,
			sync_outbound BOOLEAN NOT NULL DEFAULT TRUE,
			sync_folders TEXT[] DEFAULT '{}',
			delta_sync_token TEXT,
			last_sync_at TIMESTAMP WITH TIME ZONE,
			sync_status VARCHAR(16) NOT NULL DEFAULT 'active',
			sync_error TEXT,
			webhook_subscription_id VARCHAR(255),
			webhook_expires_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE UNIQUE INDEX idx_mailbox_credential_address ON mailbox(credential_id, LOWER(mailbox_address));`,
		`CREATE INDEX idx_mailbox_subscription ON mailbox(webhook_subscription_id) WHERE webhook_subscription_id IS NOT NULL;`,

		`CREATE TABLE IF NOT EXISTS email (
			id SERIAL PRIMARY KEY,
			provider_message_id VARCHAR(512) NOT NULL UNIQUE,
			provider_conversation_id VARCHAR(512),
			mailbox_id INT NOT NULL REFERENCES mailbox(id) ON DELETE CASCADE,
			business_id INT NOT NULL,
			direction VARCHAR(16) NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body_preview TEXT NOT NULL DEFAULT '',
			body_html TEXT,
			from_address VARCHAR(320) NOT NULL DEFAULT '',
			from_name VARCHAR(512) NOT NULL DEFAULT '',
			to_addresses TEXT[] DEFAULT '{}',
			cc_addresses TEXT[] DEFAULT '{}',
			sent_at TIMESTAMP WITH TIME ZONE,
			received_at TIMESTAMP WITH TIME ZONE,
			has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
			contact_id INT,
			company_id INT,
			deal_id INT,
			auto_linked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE INDEX idx_email_mailbox_received ON email(mailbox_id, received_at DESC);`,
		`CREATE INDEX idx_email_contact ON email(contact_id) WHERE contact_id IS NOT NULL;`,
		`CREATE INDEX idx_email_conversation ON email(provider_conversation_id);`,
	}

	for _, stmt := range createStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func downInitial(tx *sql.Tx) error {
	dropStatements := []string{
		"DROP TABLE IF EXISTS email;",
		"DROP TABLE IF EXISTS mailbox;",
		"DROP TABLE IF EXISTS credential;",
	}

	for _, stmt := range dropStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
