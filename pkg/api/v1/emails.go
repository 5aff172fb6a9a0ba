package apiv1

import (
	"net/http"

	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// EmailsGroup exposes stored emails and manual CRM linking.
type EmailsGroup struct {
	emails repository.EmailRepository
}

func NewEmailsGroup(g *echo.Group, emails repository.EmailRepository) *EmailsGroup {
	eg := &EmailsGroup{emails: emails}

	g.GET("/:id", eg.Get)
	g.PATCH("/:id/link", eg.Link)

	return eg
}

type LinkEmailRequest struct {
	ContactId *uint `json:"contact_id"`
	CompanyId *uint `json:"company_id"`
	DealId    *uint `json:"deal_id"`
}

func (eg *EmailsGroup) Get(c echo.Context) error {
	email, err := eg.load(c)
	if err != nil || email == nil {
		return err
	}
	return SuccessResponse(c, email)
}

// Link replaces all three associations. Omitted or null fields are cleared and
// the email is no longer considered auto-linked.
func (eg *EmailsGroup) Link(c echo.Context) error {
	email, err := eg.load(c)
	if err != nil || email == nil {
		return err
	}

	var req LinkEmailRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	for _, id := range []*uint{req.ContactId, req.CompanyId, req.DealId} {
		if id != nil && *id == 0 {
			return ErrorResponse(c, http.StatusBadRequest, "ids must be positive")
		}
	}

	ctx := c.Request().Context()
	links := types.EmailLinks{ContactId: req.ContactId, CompanyId: req.CompanyId, DealId: req.DealId}
	if err := eg.emails.SetEmailLinks(ctx, email.Id, links, false); err != nil {
		log.Error().Err(err).Uint("email_id", email.Id).Msg("failed to link email")
		return ErrorResponse(c, http.StatusInternalServerError, "failed to link email")
	}

	email.ContactId, email.CompanyId, email.DealId = links.ContactId, links.CompanyId, links.DealId
	email.AutoLinked = false

	log.Info().Uint("email_id", email.Id).Str("subject", auth.Subject(ctx)).Msg("email linked manually")
	return SuccessResponse(c, email)
}

func (eg *EmailsGroup) load(c echo.Context) (*types.Email, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, ErrorResponse(c, http.StatusBadRequest, "invalid email id")
	}

	ctx := c.Request().Context()
	email, err := eg.emails.GetEmail(ctx, id)
	if err != nil {
		return nil, ErrorResponse(c, http.StatusInternalServerError, "failed to load email")
	}
	if email == nil {
		return nil, ErrorResponse(c, http.StatusNotFound, "email not found")
	}
	if err := auth.RequireBusinessAccess(ctx, email.BusinessId); err != nil {
		return nil, ErrorResponse(c, http.StatusForbidden, err.Error())
	}
	return email, nil
}
