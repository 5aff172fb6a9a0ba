package types

import (
	"errors"
	"fmt"
	"time"
)

// CredentialNotFoundError is returned when a credential row does not exist
type CredentialNotFoundError struct {
	CredentialId uint
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("credential not found: %d", e.CredentialId)
}

// CredentialInactiveError is returned when a credential was deactivated
type CredentialInactiveError struct {
	CredentialId uint
}

func (e *CredentialInactiveError) Error() string {
	return fmt.Sprintf("credential inactive: %d", e.CredentialId)
}

// RefreshFailedError is returned when the token endpoint rejected a refresh.
// Permanent is set when the provider refused the refresh token itself and the
// credential has been deactivated.
type RefreshFailedError struct {
	CredentialId uint
	Permanent    bool
	Cause        error
}

func (e *RefreshFailedError) Error() string {
	return fmt.Sprintf("token refresh failed for credential %d: %v", e.CredentialId, e.Cause)
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Cause
}

// AuthenticationFailedError is returned when a request is rejected with 401 after a token refresh
type AuthenticationFailedError struct {
	Endpoint string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Endpoint)
}

// ProviderError is any other non-2xx response from the mail provider, or a response
// body that did not match the expected shape.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// FolderSyncFailedError is recorded when one folder fails; other folders continue
type FolderSyncFailedError struct {
	Folder string
	Cause  error
}

func (e *FolderSyncFailedError) Error() string {
	return fmt.Sprintf("folder %q sync failed: %v", e.Folder, e.Cause)
}

func (e *FolderSyncFailedError) Unwrap() error {
	return e.Cause
}

// MailboxSyncAbortedError ends a whole mailbox pass and flips it to error status
type MailboxSyncAbortedError struct {
	MailboxId uint
	Cause     error
}

func (e *MailboxSyncAbortedError) Error() string {
	return fmt.Sprintf("mailbox %d sync aborted: %v", e.MailboxId, e.Cause)
}

func (e *MailboxSyncAbortedError) Unwrap() error {
	return e.Cause
}

// MailboxNotFoundError is returned when a mailbox row does not exist
type MailboxNotFoundError struct {
	MailboxId uint
}

func (e *MailboxNotFoundError) Error() string {
	return fmt.Sprintf("mailbox not found: %d", e.MailboxId)
}

// NotificationProcessingFailedError wraps a webhook notification failure. It is
// logged and counted, never returned to the provider.
type NotificationProcessingFailedError struct {
	SubscriptionId string
	ChangeType     string
	Resource       string
	Cause          error
}

func (e *NotificationProcessingFailedError) Error() string {
	return fmt.Sprintf("notification %s for subscription %s failed: %v", e.ChangeType, e.SubscriptionId, e.Cause)
}

func (e *NotificationProcessingFailedError) Unwrap() error {
	return e.Cause
}

// IsCredentialFatal reports whether err means no token can be obtained for the
// credential, so every folder of the mailbox would fail the same way.
func IsCredentialFatal(err error) bool {
	var notFound *CredentialNotFoundError
	var inactive *CredentialInactiveError
	var refresh *RefreshFailedError
	return errors.As(err, &notFound) || errors.As(err, &inactive) || errors.As(err, &refresh)
}

// IsProviderStatus reports whether err is a ProviderError with the given status code
func IsProviderStatus(err error, status int) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.StatusCode == status
}
