package common

import "fmt"

var (
	// Gateway keys
	gatewayPrefix   string = "gateway"
	gatewayInitLock string = "gateway:init:%s:lock" // name

	// OAuth keys
	oauthPrefix      string = "oauth"
	oauthRefreshLock string = "oauth:refresh:%d:lock" // credentialId

	// Mailbox keys
	mailboxPrefix   string = "mailbox"
	mailboxSyncLock string = "mailbox:sync:%d:lock" // mailboxId

	// Webhook keys
	webhookPrefix   string = "webhook"
	webhookSeen     string = "webhook:seen:%s:%s:%s" // subscriptionId, changeType, messageId
	webhookFailures string = "webhook:failures:%s"   // subscriptionId

	// Email keys
	emailEvents string = "email:events"
)

var Keys = &redisKeys{}

type redisKeys struct{}

// Gateway keys
func (rk *redisKeys) GatewayPrefix() string {
	return gatewayPrefix
}

func (rk *redisKeys) GatewayInitLock(name string) string {
	return fmt.Sprintf(gatewayInitLock, name)
}

// OAuth keys
func (rk *redisKeys) OAuthPrefix() string {
	return oauthPrefix
}

func (rk *redisKeys) OAuthRefreshLock(credentialId uint) string {
	return fmt.Sprintf(oauthRefreshLock, credentialId)
}

// Mailbox keys
func (rk *redisKeys) MailboxPrefix() string {
	return mailboxPrefix
}

func (rk *redisKeys) MailboxSyncLock(mailboxId uint) string {
	return fmt.Sprintf(mailboxSyncLock, mailboxId)
}

// Webhook keys
func (rk *redisKeys) WebhookPrefix() string {
	return webhookPrefix
}

func (rk *redisKeys) WebhookSeen(subscriptionId, changeType, messageId string) string {
	return fmt.Sprintf(webhookSeen, subscriptionId, changeType, messageId)
}

func (rk *redisKeys) WebhookFailures(subscriptionId string) string {
	return fmt.Sprintf(webhookFailures, subscriptionId)
}

// Email keys
func (rk *redisKeys) EmailEvents() string {
	return emailEvents
}
