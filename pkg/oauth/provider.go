package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// Provider defines the interface for OAuth identity providers
type Provider interface {
	// Name returns the provider name (e.g., "microsoft")
	Name() string

	// IsConfigured returns true if the provider has valid credentials
	IsConfigured() bool

	// AuthorizeURL generates the OAuth authorization URL for a tenant
	AuthorizeURL(state, tenant string) string

	// Exchange exchanges an authorization code for tokens
	Exchange(ctx context.Context, code string) (*types.TokenSet, error)

	Refresher
}

// Refresher redeems a refresh token. If the provider does not rotate the
// refresh token, the returned TokenSet carries the one passed in.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*types.TokenSet, error)
}

// TokenEndpointError is a non-2xx response from the token endpoint
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
}

// Codes meaning the grant itself is dead; retrying cannot succeed
var permanentCodes = map[string]bool{
	"invalid_grant":        true,
	"invalid_client":       true,
	"unauthorized_client":  true,
	"interaction_required": true,
	"consent_required":     true,
}

// IsPermanent reports whether a refresh error means the credential must be
// deactivated rather than retried later.
func IsPermanent(err error) bool {
	var te *TokenEndpointError
	if !errors.As(err, &te) {
		return false
	}
	if permanentCodes[te.Code] {
		return true
	}
	return te.Code == "" && (te.StatusCode == http.StatusBadRequest || te.StatusCode == http.StatusUnauthorized)
}

// NeedsRefresh returns true if the token is expired or expires within margin
func NeedsRefresh(expiresAt, now time.Time, margin time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !now.Add(margin).Before(expiresAt)
}
