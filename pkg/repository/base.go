package repository

import (
	"context"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// Getters return (nil, nil) when the row does not exist.

// CredentialRepository persists OAuth credentials. Token columns are sealed
// by the caller; the repository never sees plaintext.
type CredentialRepository interface {
	GetCredential(ctx context.Context, id uint) (*types.Credential, error)
	GetActiveCredential(ctx context.Context, businessId uint, tenantId string) (*types.Credential, error)
	// SaveCredential inserts, or replaces the tokens of the active credential for
	// (businessId, tenantId) if one exists.
	SaveCredential(ctx context.Context, cred *types.Credential) (*types.Credential, error)
	// UpdateCredentialTokens writes access token, refresh token and expiry in one
	// statement and bumps token_version.
	UpdateCredentialTokens(ctx context.Context, id uint, update types.CredentialTokenUpdate) error
	DeactivateCredential(ctx context.Context, id uint, reason string) error
}

// MailboxRepository persists mailboxes and their sync bookkeeping
type MailboxRepository interface {
	CreateMailbox(ctx context.Context, mailbox *types.Mailbox) (*types.Mailbox, error)
	GetMailbox(ctx context.Context, id uint) (*types.Mailbox, error)
	GetMailboxBySubscription(ctx context.Context, subscriptionId string) (*types.Mailbox, error)
	// ListSyncableMailboxes returns mailboxes whose credential is active
	ListSyncableMailboxes(ctx context.Context) ([]*types.Mailbox, error)
	UpdateMailboxSyncState(ctx context.Context, id uint, state types.MailboxSyncState) error
	UpdateMailboxSubscription(ctx context.Context, id uint, subscriptionId string, expiresAt *time.Time) error
}

// EmailRepository stores mirrored messages keyed by provider message id
type EmailRepository interface {
	// UpsertEmail inserts the email unless one with the same provider message id
	// exists. created is false when an existing row won.
	UpsertEmail(ctx context.Context, email *types.Email) (created bool, err error)
	GetEmail(ctx context.Context, id uint) (*types.Email, error)
	GetEmailByProviderId(ctx context.Context, providerMessageId string) (*types.Email, error)
	EmailExists(ctx context.Context, providerMessageId string) (bool, error)
	DeleteEmailByProviderId(ctx context.Context, providerMessageId string) (bool, error)
	SetEmailLinks(ctx context.Context, id uint, links types.EmailLinks, autoLinked bool) error
	ListEmails(ctx context.Context, mailboxId uint, limit int) ([]*types.Email, error)
}

// CRMRepository is the read side of contacts and deals used by the auto-linker
type CRMRepository interface {
	// FindContactByAddress matches case-insensitively within a business
	FindContactByAddress(ctx context.Context, businessId uint, address string) (*types.Contact, error)
	FindOpenDealsForContact(ctx context.Context, businessId, contactId uint) ([]*types.Deal, error)
	FindOpenDealsForCompany(ctx context.Context, businessId, companyId uint) ([]*types.Deal, error)
}

// BackendRepository is the main repository for persistent data.
// Implemented by PostgresBackend and MemoryBackend.
type BackendRepository interface {
	CredentialRepository
	MailboxRepository
	EmailRepository
	CRMRepository

	// Utilities
	Ping(ctx context.Context) error
	Close() error
	RunMigrations() error
}
