package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{"offline_access", "Mail.Read", "User.Read"}

// MicrosoftClient handles Microsoft identity platform OAuth operations
type MicrosoftClient struct {
	clientID     string
	clientSecret string
	redirectURL  string
	tenant       string
	scopes       []string
	authority    string
	httpClient   *http.Client
	now          func() time.Time
}

// NewMicrosoftClient creates a new Microsoft OAuth client from config
func NewMicrosoftClient(cfg types.MicrosoftOAuthConfig) *MicrosoftClient {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}
	return &MicrosoftClient{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		tenant:       tenant,
		scopes:       scopes,
		authority:    strings.TrimSuffix(cfg.AuthorityURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

// WithHTTPClient replaces the client used for token requests
func (m *MicrosoftClient) WithHTTPClient(c *http.Client) *MicrosoftClient {
	m.httpClient = c
	return m
}

func (m *MicrosoftClient) Name() string {
	return "microsoft"
}

// IsConfigured returns true if Microsoft OAuth is configured
func (m *MicrosoftClient) IsConfigured() bool {
	return m.clientID != "" && m.clientSecret != "" && m.redirectURL != ""
}

func (m *MicrosoftClient) ClientID() string {
	return m.clientID
}

func (m *MicrosoftClient) Scopes() []string {
	return m.scopes
}

// AuthorizeURL generates the consent URL. An empty tenant uses the configured one.
func (m *MicrosoftClient) AuthorizeURL(state, tenant string) string {
	if tenant == "" {
		tenant = m.tenant
	}
	return m.oauthConfig(tenant).AuthCodeURL(state,
		oauth2.SetAuthURLParam("prompt", "select_account"),
		oauth2.SetAuthURLParam("response_mode", "query"),
	)
}

// Exchange exchanges an authorization code for tokens
func (m *MicrosoftClient) Exchange(ctx context.Context, code string) (*types.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	token, err := m.oauthConfig(m.tenant).Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &TokenEndpointError{StatusCode: re.Response.StatusCode, Code: re.ErrorCode, Description: re.ErrorDescription}
		}
		return nil, fmt.Errorf("exchange failed: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, errors.New("exchange returned no refresh token, offline_access not granted")
	}

	return &types.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UTC(),
		Scopes:       m.scopes,
	}, nil
}

// Refresh redeems a refresh token at the token endpoint
func (m *MicrosoftClient) Refresh(ctx context.Context, refreshToken string) (*types.TokenSet, error) {
	if refreshToken == "" {
		return nil, &TokenEndpointError{StatusCode: http.StatusBadRequest, Code: "invalid_grant", Description: "no refresh token"}
	}

	data := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
		"scope":         {strings.Join(m.scopes, " ")},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(m.tenant).TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &e)
		return nil, &TokenEndpointError{StatusCode: resp.StatusCode, Code: e.Error, Description: e.Description}
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}

	tokens := &types.TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(result.ExpiresIn) * time.Second).UTC(),
		Scopes:       strings.Fields(result.Scope),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken // Not rotated, keep the old one
	}
	return tokens, nil
}

func (m *MicrosoftClient) endpoint(tenant string) oauth2.Endpoint {
	if m.authority == "" {
		return microsoft.AzureADEndpoint(tenant)
	}
	return oauth2.Endpoint{
		AuthURL:   m.authority + "/" + tenant + "/oauth2/v2.0/authorize",
		TokenURL:  m.authority + "/" + tenant + "/oauth2/v2.0/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (m *MicrosoftClient) oauthConfig(tenant string) *oauth2.Config {
	endpoint := m.endpoint(tenant)
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		RedirectURL:  m.redirectURL,
		Scopes:       m.scopes,
		Endpoint:     endpoint,
	}
}

var _ Provider = (*MicrosoftClient)(nil)
