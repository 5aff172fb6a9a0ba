package apiv1

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	errMsgSessionInvalid = "Invalid or expired OAuth session"
	errMsgNoAuthCode     = "Missing authorization code"
	errMsgTokenExchange  = "Token exchange failed"
	errMsgSaveCredential = "Failed to save credential"
)

// AuthCodeProvider is an identity provider able to run the authorization-code flow
type AuthCodeProvider interface {
	oauth.Provider
	ClientID() string
}

// OAuthGroup connects a business to a Microsoft 365 tenant.
type OAuthGroup struct {
	store       *oauth.Store
	provider    AuthCodeProvider
	credentials *oauth.CredentialStore
}

// NewOAuthGroup registers session routes on the operator group and the
// provider callback on the public group.
func NewOAuthGroup(operator, public *echo.Group, store *oauth.Store, provider AuthCodeProvider, credentials *oauth.CredentialStore) *OAuthGroup {
	og := &OAuthGroup{
		store:       store,
		provider:    provider,
		credentials: credentials,
	}

	operator.POST("/sessions", og.CreateSession)
	operator.GET("/sessions/:id", og.GetSession)
	public.GET("/callback", og.Callback)

	return og
}

type CreateSessionRequest struct {
	BusinessId uint   `json:"business_id"`
	TenantId   string `json:"tenant_id"`
	ReturnTo   string `json:"return_to,omitempty"`
}

type CreateSessionResponse struct {
	SessionID    string `json:"session_id"`
	AuthorizeURL string `json:"authorize_url"`
}

// CreateSession creates a new OAuth session and returns the authorization URL.
func (og *OAuthGroup) CreateSession(c echo.Context) error {
	if !og.provider.IsConfigured() {
		return ErrorResponse(c, http.StatusServiceUnavailable, "microsoft oauth is not configured")
	}

	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	req.TenantId = strings.TrimSpace(req.TenantId)
	if req.BusinessId == 0 || req.TenantId == "" {
		return ErrorResponse(c, http.StatusBadRequest, "business_id and tenant_id required")
	}
	if err := auth.RequireBusinessAccess(c.Request().Context(), req.BusinessId); err != nil {
		return ErrorResponse(c, http.StatusForbidden, err.Error())
	}

	if req.ReturnTo != "" {
		if !strings.HasPrefix(req.ReturnTo, "/") &&
			!strings.HasPrefix(req.ReturnTo, "http://") &&
			!strings.HasPrefix(req.ReturnTo, "https://") {
			return ErrorResponse(c, http.StatusBadRequest, "return_to must be a relative path or full URL")
		}
	}

	session := og.store.Create(req.BusinessId, req.TenantId, req.ReturnTo)
	authorizeURL := og.provider.AuthorizeURL(session.State, req.TenantId)

	log.Info().
		Str("session_id", session.ID).
		Uint("business_id", req.BusinessId).
		Str("tenant_id", req.TenantId).
		Str("provider", og.provider.Name()).
		Msg("oauth session created")

	return c.JSON(http.StatusCreated, Response{
		Success: true,
		Data: CreateSessionResponse{
			SessionID:    session.ID,
			AuthorizeURL: authorizeURL,
		},
	})
}

// GetSession returns the status of an OAuth session.
func (og *OAuthGroup) GetSession(c echo.Context) error {
	session := og.store.Get(c.Param("id"))
	if session == nil {
		return ErrorResponse(c, http.StatusNotFound, "session not found")
	}
	if err := auth.RequireBusinessAccess(c.Request().Context(), session.BusinessID); err != nil {
		return ErrorResponse(c, http.StatusForbidden, err.Error())
	}
	return SuccessResponse(c, session)
}

// Callback completes the flow. The session is found by the state parameter.
func (og *OAuthGroup) Callback(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	errParam := c.QueryParam("error")

	session := og.store.GetByState(state)
	if state == "" || session == nil {
		return renderErrorPage(c, errMsgSessionInvalid)
	}

	if errParam != "" {
		og.store.Fail(session.ID, og.provider.Name()+": "+errParam)
		return renderErrorPage(c, fmt.Sprintf("Authorization failed: %s", errParam))
	}

	if code == "" {
		og.store.Fail(session.ID, errMsgNoAuthCode)
		return renderErrorPage(c, errMsgNoAuthCode)
	}

	ctx := c.Request().Context()
	tokens, err := og.provider.Exchange(ctx, code)
	if err != nil {
		og.store.Fail(session.ID, err.Error())
		log.Error().Err(err).Str("session_id", session.ID).Str("provider", og.provider.Name()).Msg("oauth token exchange failed")
		return renderErrorPage(c, errMsgTokenExchange)
	}

	cred, err := og.credentials.Save(ctx, session.BusinessID, session.TenantID, og.provider.ClientID(), tokens)
	if err != nil {
		og.store.Fail(session.ID, err.Error())
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to save credential")
		return renderErrorPage(c, errMsgSaveCredential)
	}

	og.store.Complete(session.ID, cred.Id)

	log.Info().
		Str("session_id", session.ID).
		Object("credential", cred).
		Msg("oauth credential saved")

	if session.ReturnTo != "" {
		return c.Redirect(http.StatusFound, session.ReturnTo)
	}

	return renderSuccessPage(c, session.TenantID)
}
