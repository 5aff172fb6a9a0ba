package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMicrosoftClient(t *testing.T, handler http.HandlerFunc) *MicrosoftClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewMicrosoftClient(types.MicrosoftOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/callback",
		Tenant:       "contoso",
		AuthorityURL: srv.URL,
	})
	c.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestMicrosoftRefreshRotated(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contoso/oauth2/v2.0/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "offline_access Mail.Read User.Read", r.PostForm.Get("scope"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
			"scope":         "Mail.Read User.Read",
		})
	})

	tokens, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tokens.AccessToken)
	assert.Equal(t, "new-refresh", tokens.RefreshToken)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), tokens.ExpiresAt)
	assert.Equal(t, []string{"Mail.Read", "User.Read"}, tokens.Scopes)
}

func TestMicrosoftRefreshKeepsUnrotatedToken(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "new-access", "expires_in": 3600})
	})

	tokens, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", tokens.RefreshToken)
}

func TestMicrosoftRefreshInvalidGrantIsPermanent(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "AADSTS70008: The refresh token has expired",
		})
	})

	_, err := c.Refresh(context.Background(), "old-refresh")
	require.Error(t, err)
	var te *TokenEndpointError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "invalid_grant", te.Code)
	assert.True(t, IsPermanent(err))
}

func TestMicrosoftRefreshServerErrorIsTransient(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Refresh(context.Background(), "old-refresh")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestMicrosoftExchange(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	tokens, err := c.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access", tokens.AccessToken)
	assert.Equal(t, "refresh", tokens.RefreshToken)
	assert.False(t, tokens.ExpiresAt.IsZero())
}

func TestMicrosoftAuthorizeURL(t *testing.T) {
	c := newTestMicrosoftClient(t, func(w http.ResponseWriter, r *http.Request) {})

	raw := c.AuthorizeURL("state-123", "fabrikam")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/fabrikam/oauth2/v2.0/authorize", u.Path)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Contains(t, u.Query().Get("scope"), "offline_access")

	u, err = url.Parse(c.AuthorizeURL("s", ""))
	require.NoError(t, err)
	assert.Equal(t, "/contoso/oauth2/v2.0/authorize", u.Path)
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, NeedsRefresh(time.Time{}, now, time.Minute))
	assert.True(t, NeedsRefresh(now.Add(4*time.Minute), now, 5*time.Minute))
	assert.True(t, NeedsRefresh(now.Add(5*time.Minute), now, 5*time.Minute))
	assert.False(t, NeedsRefresh(now.Add(6*time.Minute), now, 5*time.Minute))
}
