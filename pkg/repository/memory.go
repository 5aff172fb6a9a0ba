package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/google/uuid"
)

// MemoryBackend implements BackendRepository using in-memory storage.
// This is used for local mode where we don't have Postgres, and by tests.
type MemoryBackend struct {
	mu sync.RWMutex

	nextId      uint
	credentials map[uint]*types.Credential
	mailboxes   map[uint]*types.Mailbox
	emails      map[uint]*types.Email
	emailIndex  map[string]uint // provider message id -> email id
	contacts    map[uint]*types.Contact
	deals       map[uint]*types.Deal

	now func() time.Time
}

// NewMemoryBackend creates a new in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		credentials: make(map[uint]*types.Credential),
		mailboxes:   make(map[uint]*types.Mailbox),
		emails:      make(map[uint]*types.Email),
		emailIndex:  make(map[string]uint),
		contacts:    make(map[uint]*types.Contact),
		deals:       make(map[uint]*types.Deal),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ BackendRepository = (*MemoryBackend)(nil)

func (r *MemoryBackend) id() uint {
	r.nextId++
	return r.nextId
}

func (r *MemoryBackend) Ping(ctx context.Context) error { return nil }
func (r *MemoryBackend) Close() error                   { return nil }
func (r *MemoryBackend) RunMigrations() error           { return nil }

// Credentials

func copyCredential(c *types.Credential) *types.Credential {
	cp := *c
	cp.AccessToken = slices.Clone(c.AccessToken)
	cp.RefreshToken = slices.Clone(c.RefreshToken)
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

func (r *MemoryBackend) GetCredential(ctx context.Context, id uint) (*types.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.credentials[id]
	if !ok {
		return nil, nil
	}
	return copyCredential(c), nil
}

func (r *MemoryBackend) GetActiveCredential(ctx context.Context, businessId uint, tenantId string) (*types.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.activeCredential(businessId, tenantId); c != nil {
		return copyCredential(c), nil
	}
	return nil, nil
}

func (r *MemoryBackend) activeCredential(businessId uint, tenantId string) *types.Credential {
	for _, c := range r.credentials {
		if c.IsActive && c.BusinessId == businessId && c.TenantId == tenantId {
			return c
		}
	}
	return nil
}

func (r *MemoryBackend) SaveCredential(ctx context.Context, cred *types.Credential) (*types.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing := r.activeCredential(cred.BusinessId, cred.TenantId); existing != nil {
		existing.ClientId = cred.ClientId
		existing.AccessToken = slices.Clone(cred.AccessToken)
		existing.RefreshToken = slices.Clone(cred.RefreshToken)
		existing.TokenExpiresAt = cred.TokenExpiresAt.UTC()
		existing.Scopes = slices.Clone(cred.Scopes)
		existing.TokenVersion++
		existing.UpdatedAt = now
		return copyCredential(existing), nil
	}

	c := copyCredential(cred)
	c.Id = r.id()
	c.ExternalId = uuid.New().String()
	c.TokenExpiresAt = cred.TokenExpiresAt.UTC()
	c.IsActive = true
	c.TokenVersion = 1
	c.DeactivatedReason = ""
	c.DeactivatedAt = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	r.credentials[c.Id] = c
	return copyCredential(c), nil
}

func (r *MemoryBackend) UpdateCredentialTokens(ctx context.Context, id uint, update types.CredentialTokenUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok {
		return &types.CredentialNotFoundError{CredentialId: id}
	}
	c.AccessToken = slices.Clone(update.AccessToken)
	c.RefreshToken = slices.Clone(update.RefreshToken)
	c.TokenExpiresAt = update.TokenExpiresAt.UTC()
	c.TokenVersion++
	c.UpdatedAt = r.now()
	return nil
}

func (r *MemoryBackend) DeactivateCredential(ctx context.Context, id uint, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.credentials[id]
	if !ok {
		return &types.CredentialNotFoundError{CredentialId: id}
	}
	now := r.now()
	c.IsActive = false
	c.DeactivatedReason = reason
	c.DeactivatedAt = &now
	c.UpdatedAt = now
	return nil
}

// Mailboxes

func copyMailbox(m *types.Mailbox) *types.Mailbox {
	cp := *m
	cp.SyncFolders = slices.Clone(m.SyncFolders)
	return &cp
}

func (r *MemoryBackend) CreateMailbox(ctx context.Context, mailbox *types.Mailbox) (*types.Mailbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.mailboxes {
		if m.CredentialId == mailbox.CredentialId && strings.EqualFold(m.MailboxAddress, mailbox.MailboxAddress) {
			return nil, fmt.Errorf("create mailbox: %s already attached to credential %d", mailbox.MailboxAddress, mailbox.CredentialId)
		}
	}

	now := r.now()
	m := copyMailbox(mailbox)
	m.Id = r.id()
	m.ExternalId = uuid.New().String()
	if m.SyncStatus == "" {
		m.SyncStatus = types.SyncStatusActive
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	r.mailboxes[m.Id] = m
	return copyMailbox(m), nil
}

func (r *MemoryBackend) GetMailbox(ctx context.Context, id uint) (*types.Mailbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mailboxes[id]
	if !ok {
		return nil, nil
	}
	return copyMailbox(m), nil
}

func (r *MemoryBackend) GetMailboxBySubscription(ctx context.Context, subscriptionId string) (*types.Mailbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mailboxes {
		if subscriptionId != "" && m.WebhookSubscriptionId == subscriptionId {
			return copyMailbox(m), nil
		}
	}
	return nil, nil
}

func (r *MemoryBackend) ListSyncableMailboxes(ctx context.Context) ([]*types.Mailbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Mailbox
	for _, m := range r.mailboxes {
		if c, ok := r.credentials[m.CredentialId]; ok && c.IsActive {
			out = append(out, copyMailbox(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (r *MemoryBackend) UpdateMailboxSyncState(ctx context.Context, id uint, state types.MailboxSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mailboxes[id]
	if !ok {
		return &types.MailboxNotFoundError{MailboxId: id}
	}
	if state.DeltaSyncToken != nil {
		m.DeltaSyncToken = *state.DeltaSyncToken
	}
	if state.LastSyncAt != nil {
		t := state.LastSyncAt.UTC()
		m.LastSyncAt = &t
	}
	m.SyncStatus = state.SyncStatus
	m.SyncError = state.SyncError
	m.UpdatedAt = r.now()
	return nil
}

func (r *MemoryBackend) UpdateMailboxSubscription(ctx context.Context, id uint, subscriptionId string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mailboxes[id]
	if !ok {
		return &types.MailboxNotFoundError{MailboxId: id}
	}
	m.WebhookSubscriptionId = subscriptionId
	m.WebhookExpiresAt = expiresAt
	m.UpdatedAt = r.now()
	return nil
}

// Emails

func copyEmail(e *types.Email) *types.Email {
	cp := *e
	cp.ToAddresses = slices.Clone(e.ToAddresses)
	cp.CcAddresses = slices.Clone(e.CcAddresses)
	return &cp
}

func (r *MemoryBackend) UpsertEmail(ctx context.Context, email *types.Email) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.emailIndex[email.ProviderMessageId]; exists {
		return false, nil
	}

	e := copyEmail(email)
	e.Id = r.id()
	e.CreatedAt = r.now()
	r.emails[e.Id] = e
	r.emailIndex[e.ProviderMessageId] = e.Id

	email.Id = e.Id
	email.CreatedAt = e.CreatedAt
	return true, nil
}

func (r *MemoryBackend) GetEmail(ctx context.Context, id uint) (*types.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.emails[id]
	if !ok {
		return nil, nil
	}
	return copyEmail(e), nil
}

func (r *MemoryBackend) GetEmailByProviderId(ctx context.Context, providerMessageId string) (*types.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.emailIndex[providerMessageId]
	if !ok {
		return nil, nil
	}
	return copyEmail(r.emails[id]), nil
}

func (r *MemoryBackend) EmailExists(ctx context.Context, providerMessageId string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.emailIndex[providerMessageId]
	return ok, nil
}

func (r *MemoryBackend) DeleteEmailByProviderId(ctx context.Context, providerMessageId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.emailIndex[providerMessageId]
	if !ok {
		return false, nil
	}
	delete(r.emailIndex, providerMessageId)
	delete(r.emails, id)
	return true, nil
}

func (r *MemoryBackend) SetEmailLinks(ctx context.Context, id uint, links types.EmailLinks, autoLinked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return fmt.Errorf("email not found: %d", id)
	}
	e.ContactId = links.ContactId
	e.CompanyId = links.CompanyId
	e.DealId = links.DealId
	e.AutoLinked = autoLinked
	return nil
}

func (r *MemoryBackend) ListEmails(ctx context.Context, mailboxId uint, limit int) ([]*types.Email, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Email
	for _, e := range r.emails {
		if e.MailboxId == mailboxId {
			out = append(out, copyEmail(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id > out[j].Id })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CRM

// AddContact seeds a contact; the CRM owns these rows in production
func (r *MemoryBackend) AddContact(businessId uint, email string, companyId *uint) *types.Contact {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &types.Contact{Id: r.id(), BusinessId: businessId, Email: email, CompanyId: companyId}
	r.contacts[c.Id] = c
	cp := *c
	return &cp
}

// AddDeal seeds a deal
func (r *MemoryBackend) AddDeal(businessId uint, contactId, companyId *uint, open bool) *types.Deal {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &types.Deal{Id: r.id(), BusinessId: businessId, ContactId: contactId, CompanyId: companyId, IsOpen: open}
	r.deals[d.Id] = d
	cp := *d
	return &cp
}

func (r *MemoryBackend) FindContactByAddress(ctx context.Context, businessId uint, address string) (*types.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *types.Contact
	for _, c := range r.contacts {
		if c.BusinessId == businessId && strings.EqualFold(c.Email, address) {
			if match == nil || c.Id < match.Id {
				match = c
			}
		}
	}
	if match == nil {
		return nil, nil
	}
	cp := *match
	return &cp, nil
}

func (r *MemoryBackend) FindOpenDealsForContact(ctx context.Context, businessId, contactId uint) ([]*types.Deal, error) {
	return r.findDeals(func(d *types.Deal) bool {
		return d.BusinessId == businessId && d.ContactId != nil && *d.ContactId == contactId
	}), nil
}

func (r *MemoryBackend) FindOpenDealsForCompany(ctx context.Context, businessId, companyId uint) ([]*types.Deal, error) {
	return r.findDeals(func(d *types.Deal) bool {
		return d.BusinessId == businessId && d.CompanyId != nil && *d.CompanyId == companyId
	}), nil
}

func (r *MemoryBackend) findDeals(match func(*types.Deal) bool) []*types.Deal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Deal
	for _, d := range r.deals {
		if d.IsOpen && match(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}
