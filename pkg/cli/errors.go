package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// FormatError converts an error to a human-readable message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var (
		notFound    *types.MailboxNotFoundError
		credMissing *types.CredentialNotFoundError
		inactive    *types.CredentialInactiveError
		refresh     *types.RefreshFailedError
		authFailed  *types.AuthenticationFailedError
		provider    *types.ProviderError
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("Mailbox %d does not exist", notFound.MailboxId)
	case errors.As(err, &credMissing):
		return fmt.Sprintf("Credential %d does not exist", credMissing.CredentialId)
	case errors.As(err, &inactive):
		return fmt.Sprintf("Credential %d is deactivated", inactive.CredentialId)
	case errors.As(err, &refresh):
		if refresh.Permanent {
			return fmt.Sprintf("Credential %d was revoked by the provider", refresh.CredentialId)
		}
		return fmt.Sprintf("Token refresh failed for credential %d (%v)", refresh.CredentialId, refresh.Cause)
	case errors.As(err, &authFailed):
		return "The provider rejected the access token after a refresh"
	case errors.As(err, &provider):
		if provider.Message != "" {
			return fmt.Sprintf("Mail provider returned %d (%s)", provider.StatusCode, provider.Message)
		}
		return fmt.Sprintf("Mail provider returned %d", provider.StatusCode)
	case errors.Is(err, common.ErrRedisNotConfigured):
		return "Redis is not configured (database.redis.addrs)"
	}

	return cleanErrorMessage(err.Error())
}

// GetErrorSuggestions returns next steps for errors an operator can act on
func GetErrorSuggestions(err error) []string {
	var (
		inactive *types.CredentialInactiveError
		refresh  *types.RefreshFailedError
		provider *types.ProviderError
	)
	switch {
	case errors.As(err, &inactive), errors.As(err, &refresh) && refresh.Permanent:
		return []string{
			"Reconnect the account through " + CodeStyle.Render("POST /api/v1/oauth/session"),
			"Attach the mailbox to the new credential",
		}
	case errors.As(err, &provider) && provider.StatusCode == 429:
		return []string{fmt.Sprintf("Retry after %s", provider.RetryAfter)}
	case errors.Is(err, common.ErrRedisNotConfigured):
		return []string{"Set " + CodeStyle.Render("mode: local") + " to run without Redis and Postgres"}
	}
	return nil
}

// cleanErrorMessage keeps the outermost and innermost parts of a deep wrap chain
func cleanErrorMessage(msg string) string {
	msg = strings.TrimPrefix(msg, "error: ")

	parts := strings.Split(msg, ": ")
	if len(parts) > 3 {
		msg = parts[0] + ": " + parts[len(parts)-1]
	}
	return msg
}

// PrintFormattedError prints an error with styling and optional suggestions
func PrintFormattedError(title string, err error) {
	fmt.Fprintln(out)
	PrintError(errors.New(title))

	if err != nil {
		fmt.Fprintf(out, "  %s\n", DimStyle.Render(FormatError(err)))
		if suggestions := GetErrorSuggestions(err); len(suggestions) > 0 {
			PrintSuggestions("Suggestions:", suggestions)
		}
	}
	fmt.Fprintln(out)
}
