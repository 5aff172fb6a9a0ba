package types

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SyncStatus is the externally visible health of a mailbox
type SyncStatus string

const (
	SyncStatusActive SyncStatus = "active"
	SyncStatusError  SyncStatus = "error"
)

// EmailDirection is relative to the mailbox that fetched the message
type EmailDirection string

const (
	DirectionInbound  EmailDirection = "inbound"
	DirectionOutbound EmailDirection = "outbound"
)

// Credential holds sealed OAuth tokens for one business/tenant pair.
// AccessToken and RefreshToken are ciphertext; use oauth.CredentialStore to open them.
type Credential struct {
	Id                uint       `json:"id"`
	ExternalId        string     `json:"external_id"`
	BusinessId        uint       `json:"business_id"`
	TenantId          string     `json:"tenant_id"`
	ClientId          string     `json:"client_id"`
	AccessToken       []byte     `json:"-"`
	RefreshToken      []byte     `json:"-"`
	TokenExpiresAt    time.Time  `json:"token_expires_at"`
	Scopes            []string   `json:"scopes"`
	IsActive          bool       `json:"is_active"`
	TokenVersion      int        `json:"token_version"`
	DeactivatedReason string     `json:"deactivated_reason,omitempty"`
	DeactivatedAt     *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MarshalZerologObject logs credential metadata only. Token material is never emitted.
func (c *Credential) MarshalZerologObject(e *zerolog.Event) {
	e.Uint("credential_id", c.Id).
		Uint("business_id", c.BusinessId).
		Str("tenant_id", c.TenantId).
		Bool("active", c.IsActive).
		Time("token_expires_at", c.TokenExpiresAt).
		Int("token_version", c.TokenVersion)
}

// TokenSet is a plaintext token bundle as returned by the identity provider.
// It must only live in memory.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
}

// CredentialTokenUpdate carries sealed tokens for an atomic replacement
type CredentialTokenUpdate struct {
	AccessToken    []byte
	RefreshToken   []byte
	TokenExpiresAt time.Time
}

// Mailbox is a provider mailbox attached to a credential
type Mailbox struct {
	Id                    uint       `json:"id"`
	ExternalId            string     `json:"external_id"`
	CredentialId          uint       `json:"credential_id"`
	BusinessId            uint       `json:"business_id"`
	MailboxAddress        string     `json:"mailbox_address"`
	SyncInbound           bool       `json:"sync_inbound"`
	SyncOutbound          bool       `json:"sync_outbound"`
	SyncFolders           []string   `json:"sync_folders"`
	DeltaSyncToken        string     `json:"-"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus            SyncStatus `json:"sync_status"`
	SyncError             string     `json:"sync_error,omitempty"`
	WebhookSubscriptionId string     `json:"webhook_subscription_id,omitempty"`
	WebhookExpiresAt      *time.Time `json:"webhook_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SyncsFolder reports whether a provider folder display name is in the configured sync set
func (m *Mailbox) SyncsFolder(displayName string) bool {
	for _, f := range m.SyncFolders {
		if strings.EqualFold(strings.TrimSpace(f), strings.TrimSpace(displayName)) {
			return true
		}
	}
	return false
}

// SyncsDirection reports whether messages in the given direction should be stored
func (m *Mailbox) SyncsDirection(d EmailDirection) bool {
	if d == DirectionOutbound {
		return m.SyncOutbound
	}
	return m.SyncInbound
}

// MailboxSyncState is the set of fields written after a sync pass.
// Nil pointers leave the stored value untouched.
type MailboxSyncState struct {
	DeltaSyncToken *string
	LastSyncAt     *time.Time
	SyncStatus     SyncStatus
	SyncError      string
}

// Email is a mirrored provider message
type Email struct {
	Id                     uint           `json:"id"`
	ProviderMessageId      string         `json:"provider_message_id"`
	ProviderConversationId string         `json:"provider_conversation_id"`
	MailboxId              uint           `json:"mailbox_id"`
	BusinessId             uint           `json:"business_id"`
	Direction              EmailDirection `json:"direction"`
	Subject                string         `json:"subject"`
	BodyPreview            string         `json:"body_preview"`
	BodyHtml               string         `json:"body_html,omitempty"`
	FromAddress            string         `json:"from_address"`
	FromName               string         `json:"from_name"`
	ToAddresses            []string       `json:"to_addresses"`
	CcAddresses            []string       `json:"cc_addresses"`
	SentAt                 *time.Time     `json:"sent_at,omitempty"`
	ReceivedAt             *time.Time     `json:"received_at,omitempty"`
	HasAttachments         bool           `json:"has_attachments"`
	ContactId              *uint          `json:"contact_id,omitempty"`
	CompanyId              *uint          `json:"company_id,omitempty"`
	DealId                 *uint          `json:"deal_id,omitempty"`
	AutoLinked             bool           `json:"auto_linked"`
	CreatedAt              time.Time      `json:"created_at"`
}

// EmailLinks are the CRM associations of an email
type EmailLinks struct {
	ContactId *uint `json:"contact_id,omitempty"`
	CompanyId *uint `json:"company_id,omitempty"`
	DealId    *uint `json:"deal_id,omitempty"`
}

// IsEmpty is true when no CRM record was linked
func (l EmailLinks) IsEmpty() bool {
	return l.ContactId == nil && l.CompanyId == nil && l.DealId == nil
}

// Contact is the subset of a CRM contact the linker needs
type Contact struct {
	Id         uint   `json:"id"`
	BusinessId uint   `json:"business_id"`
	Email      string `json:"email"`
	CompanyId  *uint  `json:"company_id,omitempty"`
}

// Deal is the subset of a CRM deal the linker needs
type Deal struct {
	Id         uint  `json:"id"`
	BusinessId uint  `json:"business_id"`
	ContactId  *uint `json:"contact_id,omitempty"`
	CompanyId  *uint `json:"company_id,omitempty"`
	IsOpen     bool  `json:"is_open"`
}
