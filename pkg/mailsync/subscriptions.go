package mailsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources/clients"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

// SubscriptionAPI manages Graph change notification subscriptions
type SubscriptionAPI interface {
	CreateSubscription(ctx context.Context, credentialId uint, in clients.SubscriptionRequest) (*clients.Subscription, error)
	RenewSubscription(ctx context.Context, credentialId uint, subscriptionId string, expiresAt time.Time) (*clients.Subscription, error)
	DeleteSubscription(ctx context.Context, credentialId uint, subscriptionId string) error
}

var _ SubscriptionAPI = (*clients.GraphClient)(nil)

// SubscriptionManager keeps one live push subscription per mailbox
type SubscriptionManager struct {
	mailboxes repository.MailboxRepository
	api       SubscriptionAPI
	cfg       types.WebhookConfig
	now       func() time.Time
}

func NewSubscriptionManager(mailboxes repository.MailboxRepository, api SubscriptionAPI, cfg types.WebhookConfig) *SubscriptionManager {
	if cfg.SubscriptionTTL <= 0 {
		// Graph caps message subscriptions just under three days
		cfg.SubscriptionTTL = 70 * time.Hour
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = 12 * time.Hour
	}
	return &SubscriptionManager{mailboxes: mailboxes, api: api, cfg: cfg, now: time.Now}
}

func (m *SubscriptionManager) Enabled() bool {
	return m.cfg.SubscriptionsEnabled()
}

// EnsureSubscription creates the mailbox's subscription when missing, renews it
// when it expires within the renewal window, and recreates it when the provider
// no longer knows it. It reports whether anything changed.
func (m *SubscriptionManager) EnsureSubscription(ctx context.Context, mailbox *types.Mailbox) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}

	now := m.now()
	expiresAt := now.Add(m.cfg.SubscriptionTTL)

	if mailbox.WebhookSubscriptionId != "" {
		if mailbox.WebhookExpiresAt != nil && mailbox.WebhookExpiresAt.Sub(now) > m.cfg.RenewBefore {
			return false, nil
		}

		sub, err := m.api.RenewSubscription(ctx, mailbox.CredentialId, mailbox.WebhookSubscriptionId, expiresAt)
		switch {
		case err == nil:
			log.Info().Uint("mailbox_id", mailbox.Id).Str("subscription_id", sub.ID).Time("expires_at", sub.ExpirationDateTime).Msg("subscription renewed")
			return true, m.store(ctx, mailbox, sub)
		case types.IsProviderStatus(err, http.StatusNotFound):
			log.Warn().Uint("mailbox_id", mailbox.Id).Str("subscription_id", mailbox.WebhookSubscriptionId).Msg("subscription gone, recreating")
		default:
			return false, fmt.Errorf("renew subscription: %w", err)
		}
	}

	sub, err := m.api.CreateSubscription(ctx, mailbox.CredentialId, clients.SubscriptionRequest{
		Resource:        clients.MessagesResource(mailbox.MailboxAddress),
		ChangeTypes:     []string{clients.ChangeCreated, clients.ChangeUpdated, clients.ChangeDeleted},
		NotificationURL: m.cfg.NotificationURL,
		ClientState:     m.cfg.ClientState,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		return false, fmt.Errorf("create subscription: %w", err)
	}

	log.Info().Uint("mailbox_id", mailbox.Id).Str("subscription_id", sub.ID).Time("expires_at", sub.ExpirationDateTime).Msg("subscription created")
	return true, m.store(ctx, mailbox, sub)
}

// RemoveSubscription deletes the mailbox's subscription at the provider and forgets it
func (m *SubscriptionManager) RemoveSubscription(ctx context.Context, mailbox *types.Mailbox) error {
	if mailbox.WebhookSubscriptionId == "" {
		return nil
	}
	err := m.api.DeleteSubscription(ctx, mailbox.CredentialId, mailbox.WebhookSubscriptionId)
	if err != nil && !types.IsProviderStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if err := m.mailboxes.UpdateMailboxSubscription(ctx, mailbox.Id, "", nil); err != nil {
		return err
	}
	mailbox.WebhookSubscriptionId = ""
	mailbox.WebhookExpiresAt = nil
	return nil
}

func (m *SubscriptionManager) store(ctx context.Context, mailbox *types.Mailbox, sub *clients.Subscription) error {
	expires := sub.ExpirationDateTime.UTC()
	if err := m.mailboxes.UpdateMailboxSubscription(ctx, mailbox.Id, sub.ID, &expires); err != nil {
		return fmt.Errorf("store subscription: %w", err)
	}
	mailbox.WebhookSubscriptionId = sub.ID
	mailbox.WebhookExpiresAt = &expires
	return nil
}
