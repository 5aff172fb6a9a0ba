package apiv1

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/mailsync"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var defaultSyncFolders = []string{"Inbox", "Sent Items"}

const (
	defaultEmailListLimit = 50
	maxEmailListLimit     = 500
)

// MailboxSyncer runs one sync pass on demand
type MailboxSyncer interface {
	SyncMailbox(ctx context.Context, mailboxId uint) (*mailsync.SyncReport, error)
}

// SubscriptionEnsurer registers push notifications for a new mailbox
type SubscriptionEnsurer interface {
	Enabled() bool
	EnsureSubscription(ctx context.Context, mailbox *types.Mailbox) (bool, error)
}

// MailboxesGroup attaches mailboxes to credentials and triggers syncs.
type MailboxesGroup struct {
	backend repository.BackendRepository
	syncer  MailboxSyncer
	subs    SubscriptionEnsurer
}

func NewMailboxesGroup(g *echo.Group, backend repository.BackendRepository, syncer MailboxSyncer, subs SubscriptionEnsurer) *MailboxesGroup {
	mg := &MailboxesGroup{backend: backend, syncer: syncer, subs: subs}

	g.POST("", mg.Create)
	g.GET("/:id", mg.Get)
	g.GET("/:id/emails", mg.ListEmails)
	g.POST("/:id/sync", mg.Sync)

	return mg
}

type CreateMailboxRequest struct {
	CredentialId   uint     `json:"credential_id"`
	MailboxAddress string   `json:"mailbox_address"`
	SyncInbound    *bool    `json:"sync_inbound,omitempty"`
	SyncOutbound   *bool    `json:"sync_outbound,omitempty"`
	SyncFolders    []string `json:"sync_folders,omitempty"`
}

func (mg *MailboxesGroup) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateMailboxRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "invalid request")
	}
	address := strings.ToLower(strings.TrimSpace(req.MailboxAddress))
	if req.CredentialId == 0 || !strings.Contains(address, "@") {
		return ErrorResponse(c, http.StatusBadRequest, "credential_id and mailbox_address required")
	}

	cred, err := mg.backend.GetCredential(ctx, req.CredentialId)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "failed to load credential")
	}
	if cred == nil {
		return ErrorResponse(c, http.StatusNotFound, "credential not found")
	}
	if err := auth.RequireBusinessAccess(ctx, cred.BusinessId); err != nil {
		return ErrorResponse(c, http.StatusForbidden, err.Error())
	}
	if !cred.IsActive {
		return ErrorResponse(c, http.StatusConflict, "credential is inactive, reconnect the account")
	}

	folders := req.SyncFolders
	if len(folders) == 0 {
		folders = defaultSyncFolders
	}

	mailbox, err := mg.backend.CreateMailbox(ctx, &types.Mailbox{
		CredentialId:   cred.Id,
		BusinessId:     cred.BusinessId,
		MailboxAddress: address,
		SyncInbound:    boolOr(req.SyncInbound, true),
		SyncOutbound:   boolOr(req.SyncOutbound, true),
		SyncFolders:    folders,
		SyncStatus:     types.SyncStatusActive,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already attached") || strings.Contains(err.Error(), "duplicate") {
			return ErrorResponse(c, http.StatusConflict, "mailbox already attached to this credential")
		}
		log.Error().Err(err).Msg("failed to create mailbox")
		return ErrorResponse(c, http.StatusInternalServerError, "failed to create mailbox")
	}

	if mg.subs != nil && mg.subs.Enabled() {
		if _, err := mg.subs.EnsureSubscription(ctx, mailbox); err != nil {
			// The periodic syncer retries the subscription
			log.Warn().Err(err).Uint("mailbox_id", mailbox.Id).Msg("failed to create subscription")
		}
	}

	log.Info().
		Uint("mailbox_id", mailbox.Id).
		Uint("credential_id", cred.Id).
		Str("subject", auth.Subject(ctx)).
		Msg("mailbox attached")

	return c.JSON(http.StatusCreated, Response{Success: true, Data: mailbox})
}

func (mg *MailboxesGroup) Get(c echo.Context) error {
	mailbox, err := mg.load(c)
	if err != nil || mailbox == nil {
		return err
	}
	return SuccessResponse(c, mailbox)
}

func (mg *MailboxesGroup) ListEmails(c echo.Context) error {
	mailbox, err := mg.load(c)
	if err != nil || mailbox == nil {
		return err
	}

	limit := defaultEmailListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxEmailListLimit)
	}

	emails, err := mg.backend.ListEmails(c.Request().Context(), mailbox.Id, limit)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "failed to list emails")
	}
	if emails == nil {
		emails = []*types.Email{}
	}
	return SuccessResponse(c, emails)
}

// Sync runs a pass in the request and returns its report. A credential failure
// still returns the partial report alongside the error.
func (mg *MailboxesGroup) Sync(c echo.Context) error {
	mailbox, err := mg.load(c)
	if err != nil || mailbox == nil {
		return err
	}

	report, err := mg.syncer.SyncMailbox(c.Request().Context(), mailbox.Id)
	if err != nil {
		var notFound *types.MailboxNotFoundError
		var aborted *types.MailboxSyncAbortedError
		switch {
		case errors.As(err, &notFound):
			return ErrorResponse(c, http.StatusNotFound, "mailbox not found")
		case errors.As(err, &aborted):
			return c.JSON(http.StatusBadGateway, Response{Success: false, Data: report, Error: err.Error()})
		}
		log.Error().Err(err).Uint("mailbox_id", mailbox.Id).Msg("manual sync failed")
		return ErrorResponse(c, http.StatusInternalServerError, "sync failed")
	}

	if report.Skipped {
		return c.JSON(http.StatusConflict, Response{Success: false, Data: report, Error: "sync already running"})
	}
	return SuccessResponse(c, report)
}

// load writes the error response itself; a nil mailbox with nil error means
// the response was already sent.
func (mg *MailboxesGroup) load(c echo.Context) (*types.Mailbox, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, ErrorResponse(c, http.StatusBadRequest, "invalid mailbox id")
	}

	ctx := c.Request().Context()
	mailbox, err := mg.backend.GetMailbox(ctx, id)
	if err != nil {
		return nil, ErrorResponse(c, http.StatusInternalServerError, "failed to load mailbox")
	}
	if mailbox == nil {
		return nil, ErrorResponse(c, http.StatusNotFound, "mailbox not found")
	}
	if err := auth.RequireBusinessAccess(ctx, mailbox.BusinessId); err != nil {
		return nil, ErrorResponse(c, http.StatusForbidden, err.Error())
	}
	return mailbox, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
